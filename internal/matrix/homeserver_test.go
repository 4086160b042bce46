package matrix

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

const botUserID = "@bot:example.org"

type sentMessage struct {
	Body  string
	Token string
}

// fakeHomeserver answers the client-server endpoints the bot uses.
type fakeHomeserver struct {
	mu          sync.Mutex
	tokens      map[string]bool
	loginStatus int
	logins      int
	whoamis     int
	syncs       int
	failSyncs   int
	revokeAt    int
	syncBodies  []string
	sent        []sentMessage
}

func newFakeHomeserver(t *testing.T, tokens ...string) (*fakeHomeserver, *httptest.Server) {
	t.Helper()
	hs := &fakeHomeserver{tokens: map[string]bool{}}
	for _, tok := range tokens {
		hs.tokens[tok] = true
	}
	srv := httptest.NewServer(http.HandlerFunc(hs.serve))
	t.Cleanup(srv.Close)
	return hs, srv
}

func (hs *fakeHomeserver) revoke(token string) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	delete(hs.tokens, token)
}

func (hs *fakeHomeserver) snapshot() (logins, syncs int, sent []sentMessage) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.logins, hs.syncs, append([]sentMessage(nil), hs.sent...)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (hs *fakeHomeserver) serve(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case strings.HasSuffix(path, "/versions"):
		writeJSON(w, http.StatusOK, `{"versions":["v1.11"]}`)
		return
	case strings.HasSuffix(path, "/login"):
		hs.login(w)
		return
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	hs.mu.Lock()
	if strings.HasSuffix(path, "/sync") {
		hs.syncs++
		if hs.revokeAt == hs.syncs {
			hs.tokens = map[string]bool{}
		}
	}
	valid := hs.tokens[token]
	hs.mu.Unlock()
	if !valid {
		writeJSON(w, http.StatusUnauthorized, `{"errcode":"M_UNKNOWN_TOKEN","error":"Unknown access token"}`)
		return
	}

	switch {
	case strings.HasSuffix(path, "/account/whoami"):
		hs.mu.Lock()
		hs.whoamis++
		hs.mu.Unlock()
		writeJSON(w, http.StatusOK, `{"user_id":"`+botUserID+`","device_id":"DEV"}`)
	case strings.HasSuffix(path, "/filter"):
		writeJSON(w, http.StatusOK, `{"filter_id":"f1"}`)
	case strings.HasSuffix(path, "/sync"):
		hs.sync(w)
	case strings.Contains(path, "/send/m.room.message/"):
		var content struct {
			Body string `json:"body"`
		}
		_ = json.NewDecoder(r.Body).Decode(&content)
		hs.mu.Lock()
		hs.sent = append(hs.sent, sentMessage{Body: content.Body, Token: token})
		n := len(hs.sent)
		hs.mu.Unlock()
		writeJSON(w, http.StatusOK, fmt.Sprintf(`{"event_id":"$ev%d"}`, n))
	default:
		writeJSON(w, http.StatusNotFound, `{"errcode":"M_UNRECOGNIZED","error":"Unrecognized request"}`)
	}
}

func (hs *fakeHomeserver) login(w http.ResponseWriter) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.logins++
	if hs.loginStatus != 0 {
		writeJSON(w, hs.loginStatus, `{"errcode":"M_FORBIDDEN","error":"Invalid password"}`)
		return
	}
	token := fmt.Sprintf("fresh%d", hs.logins)
	hs.tokens[token] = true
	writeJSON(w, http.StatusOK, `{"user_id":"`+botUserID+`","access_token":"`+token+`","device_id":"DEV"}`)
}

func (hs *fakeHomeserver) sync(w http.ResponseWriter) {
	hs.mu.Lock()
	if hs.failSyncs > 0 {
		hs.failSyncs--
		hs.mu.Unlock()
		writeJSON(w, http.StatusServiceUnavailable, `{"errcode":"M_UNKNOWN","error":"overloaded"}`)
		return
	}
	var body string
	if len(hs.syncBodies) > 0 {
		body, hs.syncBodies = hs.syncBodies[0], hs.syncBodies[1:]
	}
	n := hs.syncs
	hs.mu.Unlock()

	if body == "" {
		time.Sleep(5 * time.Millisecond)
		body = fmt.Sprintf(`{"next_batch":"b%d"}`, n)
	}
	writeJSON(w, http.StatusOK, body)
}

// roomTimeline builds a sync response carrying events for one joined room.
func roomTimeline(batch, roomID string, events ...string) string {
	return fmt.Sprintf(`{"next_batch":%q,"rooms":{"join":{%q:{"timeline":{"events":[%s]}}}}}`,
		batch, roomID, strings.Join(events, ","))
}

var eventSeq int

func textEvent(sender, msgtype, body string) string {
	eventSeq++
	return fmt.Sprintf(`{"type":"m.room.message","event_id":"$in%d","sender":%q,"origin_server_ts":1700000000000,"content":{"msgtype":%q,"body":%q}}`,
		eventSeq, sender, msgtype, body)
}
