package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"rollcall/shell/internal/model"
)

// Remote adapts the identity platform's HTTP API. The platform owns
// credentials and per-user documents; this adapter only mirrors them.
// Auth-state transitions are derived locally: this process is the only
// initiator of sign-in/out for its session, so watchers are notified
// after each successful credential operation.
type Remote struct {
	baseURL string
	client  *http.Client

	mu           sync.Mutex
	currentID    string
	sessionToken string

	watchers watcherSet
}

func NewRemote(baseURL string, timeout time.Duration) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type credentialRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type credentialResponse struct {
	UserID       string `json:"userId"`
	SessionToken string `json:"sessionToken"`
}

type platformError struct {
	Error string `json:"error"`
}

func (r *Remote) SignIn(ctx context.Context, email, password string) (string, error) {
	var resp credentialResponse
	err := r.post(ctx, "/v1/accounts:signIn", credentialRequest{
		Email:    normalizeEmail(email),
		Password: password,
	}, &resp)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.currentID = resp.UserID
	r.sessionToken = resp.SessionToken
	r.mu.Unlock()

	r.notifyCurrent(ctx)
	return resp.UserID, nil
}

func (r *Remote) SignUp(ctx context.Context, req model.RegistrationRequest) (string, error) {
	req.Email = normalizeEmail(req.Email)
	var resp credentialResponse
	if err := r.post(ctx, "/v1/accounts:signUp", req, &resp); err != nil {
		return "", err
	}

	r.mu.Lock()
	r.currentID = resp.UserID
	r.sessionToken = resp.SessionToken
	r.mu.Unlock()

	r.notifyCurrent(ctx)
	return resp.UserID, nil
}

func (r *Remote) SignOut(ctx context.Context) error {
	if err := r.post(ctx, "/v1/accounts:signOut", struct{}{}, nil); err != nil {
		log.Printf("identity sign-out failed, continuing: %v", err)
	}

	r.mu.Lock()
	r.currentID = ""
	r.sessionToken = ""
	r.mu.Unlock()

	r.watchers.notify(nil)
	return nil
}

func (r *Remote) GetDocument(ctx context.Context, userID string) (model.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/v1/documents/"+userID, nil)
	if err != nil {
		return model.Identity{}, err
	}
	r.authorize(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return model.Identity{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return model.Identity{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return model.Identity{}, decodeError(resp)
	}

	var doc model.Identity
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return model.Identity{}, err
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	return doc, nil
}

func (r *Remote) PutDocument(ctx context.Context, doc model.Identity) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.baseURL+"/v1/documents/"+doc.ID, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	r.authorize(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return decodeError(resp)
	}
	return nil
}

func (r *Remote) CurrentUserID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentID
}

func (r *Remote) Watch(fn func(*model.Identity)) func() {
	return r.watchers.add(fn)
}

func (r *Remote) notifyCurrent(ctx context.Context) {
	userID := r.CurrentUserID()
	if userID == "" {
		return
	}
	doc, err := r.GetDocument(ctx, userID)
	if err != nil {
		log.Printf("identity document fetch failed for %s: %v", userID, err)
		return
	}
	r.watchers.notify(&doc)
}

func (r *Remote) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	r.authorize(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (r *Remote) authorize(req *http.Request) {
	r.mu.Lock()
	token := r.sessionToken
	r.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func decodeError(resp *http.Response) error {
	var perr platformError
	if err := json.NewDecoder(resp.Body).Decode(&perr); err == nil {
		switch perr.Error {
		case "INVALID_CREDENTIALS":
			return ErrInvalidCredentials
		case "INVALID_EMAIL":
			return ErrInvalidEmail
		case "EMAIL_EXISTS":
			return ErrEmailAlreadyRegistered
		case "WEAK_PASSWORD":
			return ErrWeakPassword
		}
		if perr.Error != "" {
			return fmt.Errorf("identity platform error: %s", perr.Error)
		}
	}
	return fmt.Errorf("identity platform status %d", resp.StatusCode)
}
