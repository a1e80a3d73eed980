// Command relay-cli is a diagnostic client for the relay server.
package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/curve25519"

	"github.com/quietwire/relay/internal/gateway"
)

// ---- config/identity store ----

type identityFile struct {
	Username  string    `json:"username"`
	UserID    uuid.UUID `json:"user_id"`
	DeviceID  uuid.UUID `json:"device_id"`
	SignKey   []byte    `json:"sign_key"`  // ed25519 private
	AgreeKey  []byte    `json:"agree_key"` // x25519 private
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "relay")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "relay")
}

func identityPath() string { return filepath.Join(cfgDir(), "identity.json") }

func saveIdentity(id *identityFile) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.OpenFile(identityPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(id)
}

func loadIdentity() (*identityFile, error) {
	b, err := os.ReadFile(identityPath())
	if err != nil {
		return nil, errors.New("no identity (register first)")
	}
	var id identityFile
	if err := json.Unmarshal(b, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

func (id *identityFile) bearer() (string, error) {
	if id.Token == "" || time.Now().After(id.ExpiresAt) {
		return "", errors.New("no valid token (login required)")
	}
	return id.Token, nil
}

// ---- http client ----

type api struct {
	base   string
	token  string
	client *http.Client
}

func (a *api) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ---- utils ----

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

// newDeviceKeys generates an ed25519 identity pair, an x25519 agreement pair
// and the binding signature by the verify key over the agreement public key.
func newDeviceKeys() (signPriv ed25519.PrivateKey, agreePriv, verifyPub, agreePub, binding []byte, err error) {
	verifyPub, signPriv, err = ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return
	}
	agreePriv = make([]byte, 32)
	if _, err = rand.Read(agreePriv); err != nil {
		return
	}
	agreePub, err = curve25519.X25519(agreePriv, curve25519.Basepoint)
	if err != nil {
		return
	}
	binding = ed25519.Sign(signPriv, agreePub)
	return
}

func usage() {
	fmt.Fprintf(os.Stderr, `relay-cli
Usage:
  relay-cli -addr URL <cmd> [args]

Commands:
  version
  register  -u <username>                 (generates keys, saves identity)
  login                                   (challenge-response, saves token)
  otks      -n <count>                    (upload one-time pre-keys)
  count                                   (pool size of own device)
  channel   -to <user>[,<user>...]        (create a channel)
  channels
  tail                                    (follow the event stream)
  logout
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands against the relay REST/WS API.
func main() {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &api{base: *addr, client: &http.Client{Timeout: 30 * time.Second}}

	switch cmd {

	case "version":
		fmt.Printf("relay-cli %s (%s)\n", version, buildDate)

	case "register":
		fs := flag.NewFlagSet("register", flag.ExitOnError)
		u := fs.String("u", "", "username")
		_ = fs.Parse(flag.Args()[1:])
		if *u == "" {
			fmt.Fprintln(os.Stderr, "need -u")
			os.Exit(1)
		}

		signPriv, agreePriv, verifyPub, agreePub, binding, err := newDeviceKeys()
		if err != nil {
			fail(err)
		}
		var resp struct {
			UserID   uuid.UUID `json:"user_id"`
			DeviceID uuid.UUID `json:"device_id"`
		}
		err = a.do(ctx, http.MethodPost, "/auth/register", map[string]any{
			"username":      *u,
			"verify_key":    verifyPub,
			"agreement_key": agreePub,
			"signature":     binding,
		}, &resp)
		if err != nil {
			fail(err)
		}
		if err := saveIdentity(&identityFile{
			Username: *u,
			UserID:   resp.UserID,
			DeviceID: resp.DeviceID,
			SignKey:  signPriv,
			AgreeKey: agreePriv,
		}); err != nil {
			fail(err)
		}
		printJSON(resp)

	case "login":
		id, err := loadIdentity()
		if err != nil {
			fail(err)
		}
		var c struct {
			ChallengeID uuid.UUID `json:"challenge_id"`
			Nonce       []byte    `json:"nonce"`
		}
		if err := a.do(ctx, http.MethodPost, "/auth/challenge?user="+id.Username, nil, &c); err != nil {
			fail(err)
		}

		// Canonical challenge bytes: context string, challenge id, nonce.
		msg := append([]byte("relay-challenge-v1"), c.ChallengeID.Bytes()...)
		msg = append(msg, c.Nonce...)
		sig := ed25519.Sign(ed25519.PrivateKey(id.SignKey), msg)

		var sess struct {
			Token     string    `json:"token"`
			ExpiresAt time.Time `json:"expires_at"`
		}
		err = a.do(ctx, http.MethodPost, "/auth/challenge", map[string]any{
			"challenge_id": c.ChallengeID,
			"signature":    sig,
		}, &sess)
		if err != nil {
			fail(err)
		}
		id.Token = sess.Token
		id.ExpiresAt = sess.ExpiresAt
		if err := saveIdentity(id); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "otks":
		fs := flag.NewFlagSet("otks", flag.ExitOnError)
		n := fs.Int("n", 50, "number of keys")
		_ = fs.Parse(flag.Args()[1:])

		id, err := loadIdentity()
		if err != nil {
			fail(err)
		}
		if a.token, err = id.bearer(); err != nil {
			fail(err)
		}

		batch := make([][]byte, 0, *n)
		var signed []byte
		for i := 0; i < *n; i++ {
			priv := make([]byte, 32)
			if _, err := rand.Read(priv); err != nil {
				fail(err)
			}
			pub, err := curve25519.X25519(priv, curve25519.Basepoint)
			if err != nil {
				fail(err)
			}
			batch = append(batch, pub)
			signed = append(signed, pub...)
		}
		sig := ed25519.Sign(ed25519.PrivateKey(id.SignKey), signed)

		err = a.do(ctx, http.MethodPost, "/me/device/"+id.DeviceID.String()+"/otks", map[string]any{
			"keys":      batch,
			"signature": sig,
		}, nil)
		if err != nil {
			fail(err)
		}
		fmt.Printf("uploaded %d keys\n", len(batch))

	case "count":
		id, err := loadIdentity()
		if err != nil {
			fail(err)
		}
		if a.token, err = id.bearer(); err != nil {
			fail(err)
		}
		var resp struct {
			Count int `json:"count"`
		}
		if err := a.do(ctx, http.MethodGet, "/me/device/"+id.DeviceID.String()+"/otks", nil, &resp); err != nil {
			fail(err)
		}
		fmt.Println(resp.Count)

	case "channel":
		fs := flag.NewFlagSet("channel", flag.ExitOnError)
		to := fs.String("to", "", "comma-separated recipient usernames")
		_ = fs.Parse(flag.Args()[1:])
		if *to == "" {
			fmt.Fprintln(os.Stderr, "need -to")
			os.Exit(1)
		}

		id, err := loadIdentity()
		if err != nil {
			fail(err)
		}
		if a.token, err = id.bearer(); err != nil {
			fail(err)
		}
		var resp json.RawMessage
		err = a.do(ctx, http.MethodPost, "/channel", map[string]any{
			"recipients": strings.Split(*to, ","),
		}, &resp)
		if err != nil {
			fail(err)
		}
		printJSON(resp)

	case "channels":
		id, err := loadIdentity()
		if err != nil {
			fail(err)
		}
		if a.token, err = id.bearer(); err != nil {
			fail(err)
		}
		var resp json.RawMessage
		if err := a.do(ctx, http.MethodGet, "/me/channels", nil, &resp); err != nil {
			fail(err)
		}
		printJSON(resp)

	case "tail":
		id, err := loadIdentity()
		if err != nil {
			fail(err)
		}
		token, err := id.bearer()
		if err != nil {
			fail(err)
		}
		tail(*addr, token, id.DeviceID)

	case "logout":
		id, err := loadIdentity()
		if err != nil {
			fail(err)
		}
		if a.token, err = id.bearer(); err != nil {
			fail(err)
		}
		if err := a.do(ctx, http.MethodPost, "/auth/logout", nil, nil); err != nil {
			fail(err)
		}
		id.Token = ""
		id.ExpiresAt = time.Time{}
		if err := saveIdentity(id); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	default:
		usage()
	}
}

// tail follows the device's event stream, reconnecting with capped
// exponential backoff and asking for replay after counter gaps.
func tail(addr, token string, deviceID uuid.UUID) {
	wsBase := "ws" + strings.TrimPrefix(addr, "http")
	url := wsBase + "/me/device/" + deviceID.String() + "/ws"
	hdr := http.Header{"Authorization": []string{"Bearer " + token}}

	rc := gateway.NewReconnector(gateway.Backoff{Base: 500 * time.Millisecond, Max: 30 * time.Second})
	for {
		if rc.State() != gateway.StateDisconnected {
			rc.Disconnected()
		}
		delay := rc.Wait()
		time.Sleep(delay)
		rc.Connecting()

		ws, _, err := websocket.DefaultDialer.Dial(url, hdr)
		if err != nil {
			fmt.Fprintln(os.Stderr, "dial:", err)
			continue
		}
		rc.Connected()
		fmt.Fprintln(os.Stderr, "connected")

		// Counters restart per connection.
		var last uint64
		seen := false
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				fmt.Fprintln(os.Stderr, "read:", err)
				break
			}
			var f gateway.Frame
			if err := json.Unmarshal(data, &f); err != nil {
				fmt.Fprintln(os.Stderr, "bad frame:", err)
				break
			}
			if seen && f.Counter != last+1 && f.Counter > last {
				// Gap: ask the server to resend from the last good counter.
				_ = ws.WriteJSON(map[string]uint64{"replay": last})
				continue
			}
			if !seen || f.Counter > last {
				last = f.Counter
				seen = true
			}
			printJSON(f)
			if f.Event.Type == gateway.EventResync {
				fmt.Fprintln(os.Stderr, "resync required: refetch channels and history")
			}
		}
		_ = ws.Close()
		rc.Disconnected()
	}
}
