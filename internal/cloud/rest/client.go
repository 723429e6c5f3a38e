package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gridflow-core/internal/cloud/sign"
	"github.com/nerrad567/gridflow-core/internal/infrastructure/logging"
)

// Vendor API paths.
const (
	pathQuotaAll      = "/iot-open/sign/device/quota/all"
	pathQuota         = "/iot-open/sign/device/quota"
	pathDeviceList    = "/iot-open/sign/device/list"
	pathCertification = "/iot-open/sign/certification"
)

// maxResponseBytes bounds how much of a response body is read. Quota
// responses for the largest devices run to a few hundred KB.
const maxResponseBytes = 4 << 20

// Options configures a Client.
type Options struct {
	// BaseURL is the vendor API root, without a trailing slash.
	BaseURL string

	// AccessKey and SecretKey are the long-lived developer credentials.
	AccessKey string
	SecretKey string

	// Timeout bounds every request end to end.
	Timeout time.Duration
}

// Client is the signed HTTP channel to the vendor cloud.
//
// Every request carries fresh auth query parameters (accessKey, nonce,
// timestamp, sign); GET requests sign their query parameters, mutating
// requests sign their flattened body. The client holds no mutable state
// and is safe for concurrent use.
type Client struct {
	baseURL   string
	accessKey string
	secretKey string
	http      *http.Client
	logger    *logging.Logger
}

// New creates a Client.
//
// Parameters:
//   - opts: Connection options; BaseURL, AccessKey and SecretKey required
//   - logger: Parent logger, scoped to the rest component
//
// Returns:
//   - *Client: Ready-to-use client
func New(opts Options, logger *logging.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		accessKey: opts.AccessKey,
		secretKey: opts.SecretKey,
		http:      &http.Client{Timeout: opts.Timeout},
		logger:    logger.With("component", "rest"),
	}
}

// Credentials are the short-lived realtime channel credentials issued by
// the certification endpoint. Cached by the realtime transport and
// invalidated when the broker rejects them.
type Credentials struct {
	Account  string
	Password string
	URL      string
	Port     int
	Protocol string
}

// DeviceInfo is one entry from the account device list.
type DeviceInfo struct {
	SN          string
	Name        string
	ProductName string
	Online      bool
}

// QuotaAll fetches the full current field set for one device.
//
// Parameters:
//   - ctx: Request context
//   - deviceSN: Device serial number
//
// Returns:
//   - map[string]any: Complete field mapping as reported by the cloud
//   - error: ErrAuthentication, ErrTransport, ErrProtocol or *APIError
func (c *Client) QuotaAll(ctx context.Context, deviceSN string) (map[string]any, error) {
	data, err := c.get(ctx, pathQuotaAll, map[string]any{"sn": deviceSN})
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: decoding quota data: %v", ErrProtocol, err)
	}
	return fields, nil
}

// Wake nudges a sleeping device by issuing a lightweight quota request.
// Sleeping devices stop refreshing their reported state until any signed
// request arrives; the response body is discarded.
func (c *Client) Wake(ctx context.Context, deviceSN string) error {
	_, err := c.get(ctx, pathQuotaAll, map[string]any{"sn": deviceSN})
	if err != nil {
		return err
	}
	c.logger.Debug("wake request sent", "sn", deviceSN)
	return nil
}

// SendCommand dispatches one command over the signed channel. One attempt
// per call; the vendor does not guarantee command idempotency, so
// automatic retries are deliberately absent.
//
// Parameters:
//   - ctx: Request context
//   - cmd: Command to dispatch
//
// Returns:
//   - error: nil on vendor ack code "0"; *APIError carries any other
//     vendor code verbatim
func (c *Client) SendCommand(ctx context.Context, cmd PendingCommand) error {
	body := cmd.body()
	if _, err := c.put(ctx, pathQuota, body); err != nil {
		return err
	}
	c.logger.Info("command acknowledged", "sn", cmd.DeviceSN, "command_id", cmd.ID)
	return nil
}

// Certification fetches realtime channel credentials for this account.
func (c *Client) Certification(ctx context.Context) (Credentials, error) {
	data, err := c.get(ctx, pathCertification, nil)
	if err != nil {
		return Credentials{}, err
	}

	var raw struct {
		Account  string     `json:"certificateAccount"`
		Password string     `json:"certificatePassword"`
		URL      string     `json:"url"`
		Port     flexString `json:"port"`
		Protocol string     `json:"protocol"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Credentials{}, fmt.Errorf("%w: decoding certification data: %v", ErrProtocol, err)
	}
	if raw.Account == "" || raw.Password == "" {
		return Credentials{}, fmt.Errorf("%w: certification data missing credentials", ErrProtocol)
	}

	port := 0
	if raw.Port != "" {
		port, err = strconv.Atoi(string(raw.Port))
		if err != nil {
			return Credentials{}, fmt.Errorf("%w: certification port %q: %v", ErrProtocol, raw.Port, err)
		}
	}

	return Credentials{
		Account:  raw.Account,
		Password: raw.Password,
		URL:      raw.URL,
		Port:     port,
		Protocol: raw.Protocol,
	}, nil
}

// Devices fetches the account device list. Used as a connection test and
// to sync the local registry.
func (c *Client) Devices(ctx context.Context) ([]DeviceInfo, error) {
	data, err := c.get(ctx, pathDeviceList, nil)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		SN          string     `json:"sn"`
		Name        string     `json:"deviceName"`
		ProductName string     `json:"productName"`
		Online      flexString `json:"online"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: decoding device list: %v", ErrProtocol, err)
	}

	devices := make([]DeviceInfo, 0, len(raw))
	for _, entry := range raw {
		devices = append(devices, DeviceInfo{
			SN:          entry.SN,
			Name:        entry.Name,
			ProductName: entry.ProductName,
			Online:      entry.Online == "1",
		})
	}
	return devices, nil
}

// get issues a signed GET; params travel in the query string and the
// signature.
func (c *Client) get(ctx context.Context, path string, params map[string]any) (json.RawMessage, error) {
	values := c.authValues(params)
	for key, value := range sign.Flatten(params) {
		values.Set(key, value)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+values.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrTransport, err)
	}
	return c.do(req)
}

// put issues a signed PUT; the body is sent as JSON while its flattened
// key/value pairs participate in the signature. Auth parameters stay in
// the query string for both verbs.
func (c *Client) put(ctx context.Context, path string, body map[string]any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding body: %v", ErrProtocol, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path+"?"+c.authValues(body).Encode(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	return c.do(req)
}

// authValues signs params and returns the four auth query parameters.
// Nonce and timestamp are fresh per call and never reused across retries.
func (c *Client) authValues(params map[string]any) url.Values {
	nonce := sign.Nonce()
	timestamp := sign.Timestamp()
	signature := sign.Sign(c.secretKey, params, c.accessKey, nonce, timestamp)

	values := url.Values{}
	values.Set("accessKey", c.accessKey)
	values.Set("nonce", nonce)
	values.Set("timestamp", timestamp)
	values.Set("sign", signature)
	return values
}

// do executes the request and unwraps the vendor envelope.
func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	c.logger.Debug("cloud request",
		"method", req.Method,
		"path", req.URL.Path,
		"access_key", c.accessKey,
	)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrTransport, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: http %d", ErrAuthentication, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: http %d", ErrTransport, resp.StatusCode)
	}

	var env struct {
		Code    flexString      `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: decoding envelope: %v", ErrProtocol, err)
	}
	if !successCode(string(env.Code)) {
		return nil, &APIError{Code: string(env.Code), Message: env.Message}
	}
	return env.Data, nil
}

// successCode reports whether a vendor envelope code denotes success.
// The service answers "0" on most endpoints and "200" on a few older
// ones; an absent code with HTTP 200 also counts.
func successCode(code string) bool {
	return code == "" || code == "0" || code == "200"
}

// flexString tolerates the vendor emitting a field as either a JSON
// string or a bare number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		var unquoted string
		if err := json.Unmarshal(b, &unquoted); err != nil {
			return err
		}
		*f = flexString(unquoted)
		return nil
	}
	*f = flexString(s)
	return nil
}
