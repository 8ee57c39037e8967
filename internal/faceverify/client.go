package faceverify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var verifyOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rollcall_face_verify_outcomes_total",
	Help: "Face verification results split by real vs fallback outcome.",
}, []string{"outcome"})

var enrollFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "rollcall_face_enroll_failures_total",
	Help: "Face enrollment requests that failed and were swallowed.",
})

// Result tags every verification outcome so callers and operators can
// tell a real endpoint answer from a fallback. A simulated result is a
// placeholder, never evidence that the face matched.
type Result struct {
	Verified  bool `json:"verified"`
	Simulated bool `json:"simulated"`
}

// Client calls the face-matching endpoint and always produces a
// definite Result, even when the call cannot be completed. With
// simulation enabled, failures degrade to a random outcome with the
// configured success bias; with it disabled they fail closed.
type Client struct {
	baseURL     string
	client      *http.Client
	simulate    bool
	successBias float64
}

func New(baseURL string, timeout time.Duration, simulate bool, successBias float64) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if successBias <= 0 || successBias > 1 {
		successBias = 0.8
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: timeout},
		simulate:    simulate,
		successBias: successBias,
	}
}

type verifyRequest struct {
	Image  string `json:"image"`
	UserID string `json:"user_id"`
}

type verifyResponse struct {
	Verified bool `json:"verified"`
}

// Verify never returns an error; a failed remote call is absorbed here
// and converted into a tagged fallback result.
func (c *Client) Verify(ctx context.Context, image, userID string) Result {
	resp, err := c.post(ctx, "/verify", verifyRequest{Image: image, UserID: userID})
	if err != nil {
		return c.fallback(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.fallback(statusError(resp.StatusCode))
	}

	var body verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return c.fallback(err)
	}

	if body.Verified {
		verifyOutcomes.WithLabelValues("verified").Inc()
	} else {
		verifyOutcomes.WithLabelValues("rejected").Inc()
	}
	return Result{Verified: body.Verified}
}

// Enroll sends the enrollment request and swallows any failure; the
// calling UI flow is never blocked on the verification backend.
func (c *Client) Enroll(ctx context.Context, image, userID string) error {
	resp, err := c.post(ctx, "/enroll", verifyRequest{Image: image, UserID: userID})
	if err != nil {
		enrollFailures.Inc()
		log.Printf("face enroll failed, ignoring: %v", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		enrollFailures.Inc()
		log.Printf("face enroll failed, ignoring: %v", statusError(resp.StatusCode))
	}
	return nil
}

func (c *Client) fallback(cause error) Result {
	if !c.simulate {
		verifyOutcomes.WithLabelValues("unavailable").Inc()
		log.Printf("face verify unavailable, failing closed: %v", cause)
		return Result{Verified: false, Simulated: true}
	}
	verified := rand.Float64() < c.successBias
	verifyOutcomes.WithLabelValues("simulated").Inc()
	log.Printf("face verify unavailable, simulated result verified=%t: %v", verified, cause)
	return Result{Verified: verified, Simulated: true}
}

func (c *Client) post(ctx context.Context, path string, payload verifyRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

type statusError int

func (e statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", int(e))
}
