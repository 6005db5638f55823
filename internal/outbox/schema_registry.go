package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const registryContentType = "application/vnd.schemaregistry.v1+json"

// ErrSubjectNotFound is returned when the registry has no versions for a subject.
var ErrSubjectNotFound = errors.New("schema subject not found")

// SchemaRegistryClient registers and resolves JSON schemas in Confluent Schema Registry.
type SchemaRegistryClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewSchemaRegistryClient constructs a client with a bounded request timeout.
func NewSchemaRegistryClient(baseURL string) *SchemaRegistryClient {
	return &SchemaRegistryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type schemaIDResponse struct {
	ID int `json:"id"`
}

// EnsureSchema returns the latest schema ID for the subject, registering the schema when the
// subject does not exist yet.
func (c *SchemaRegistryClient) EnsureSchema(ctx context.Context, subject string, schema string) (int, error) {
	var latest schemaIDResponse
	err := c.do(ctx, http.MethodGet, c.subjectPath(subject, "versions/latest"), nil, &latest)
	if err == nil {
		return latest.ID, nil
	}
	if !errors.Is(err, ErrSubjectNotFound) {
		return 0, err
	}

	body, err := json.Marshal(map[string]string{"schemaType": "JSON", "schema": schema})
	if err != nil {
		return 0, err
	}
	var registered schemaIDResponse
	if err := c.do(ctx, http.MethodPost, c.subjectPath(subject, "versions"), body, &registered); err != nil {
		return 0, fmt.Errorf("register %s: %w", subject, err)
	}
	return registered.ID, nil
}

func (c *SchemaRegistryClient) subjectPath(subject, suffix string) string {
	return c.baseURL + "/subjects/" + url.PathEscape(subject) + "/" + suffix
}

// do performs one registry call and decodes a 2xx body into out. A 404 maps to ErrSubjectNotFound.
func (c *SchemaRegistryClient) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", registryContentType)
	if body != nil {
		req.Header.Set("Content-Type", registryContentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrSubjectNotFound
	case resp.StatusCode >= 300:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("schema registry error (status %d): %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
