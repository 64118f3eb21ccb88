package device

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

	"ez1-mqtt-bridge/internal/errors"
)

// Local API endpoints
const (
	endpointDeviceInfo  = "/getDeviceInfo"
	endpointOutputData  = "/getOutputData"
	endpointGetMaxPower = "/getMaxPower"
	endpointSetMaxPower = "/setMaxPower"
	endpointGetOnOff    = "/getOnOff"
	endpointSetOnOff    = "/setOnOff"

	messageSuccess = "SUCCESS"

	// On the EZ1, status "0" means the output is switched on
	statusOn  = "0"
	statusOff = "1"

	maxResponseBytes = 64 << 10
)

// HTTPClient is the Client implementation for the EZ1 local HTTP API
type HTTPClient struct {
	baseURL string
	host    string
	http    *http.Client
}

// NewHTTPClient creates a client for the API at baseURL (e.g. http://192.168.1.50:8050).
// Every request is bounded by timeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	baseURL = strings.TrimRight(baseURL, "/")
	host := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return &HTTPClient{
		baseURL: baseURL,
		host:    host,
		http:    &http.Client{Timeout: timeout},
	}
}

// envelope is the common response wrapper of the local API
type envelope struct {
	Data     json.RawMessage `json:"data"`
	Message  string          `json:"message"`
	DeviceID string          `json:"deviceId"`
}

// flexInt decodes numbers the firmware sometimes sends as strings
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	*f = flexInt(v)
	return nil
}

type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	*f = flexFloat(v)
	return nil
}

type deviceInfoData struct {
	DeviceID string  `json:"deviceId"`
	DevVer   string  `json:"devVer"`
	SSID     string  `json:"ssid"`
	IPAddr   string  `json:"ipAddr"`
	MinPower flexInt `json:"minPower"`
	MaxPower flexInt `json:"maxPower"`
}

type outputData struct {
	P1  flexInt   `json:"p1"`
	E1  flexFloat `json:"e1"`
	TE1 flexFloat `json:"te1"`
	P2  flexInt   `json:"p2"`
	E2  flexFloat `json:"e2"`
	TE2 flexFloat `json:"te2"`
}

type maxPowerData struct {
	MaxPower flexInt `json:"maxPower"`
}

type onOffData struct {
	Status string `json:"status"`
}

// GetDeviceInfo fetches the inverter identity
func (c *HTTPClient) GetDeviceInfo(ctx context.Context) (DeviceInfo, error) {
	var d deviceInfoData
	if err := c.call(ctx, "get_device_info", endpointDeviceInfo, nil, &d); err != nil {
		return DeviceInfo{}, err
	}
	return DeviceInfo{
		DeviceID:        d.DeviceID,
		FirmwareVersion: d.DevVer,
		SSID:            d.SSID,
		IPAddress:       d.IPAddr,
		MinPower:        int(d.MinPower),
		MaxPower:        int(d.MaxPower),
	}, nil
}

// GetOutputData fetches the current power and energy of both channels
func (c *HTTPClient) GetOutputData(ctx context.Context) (OutputReading, error) {
	var d outputData
	if err := c.call(ctx, "get_output_data", endpointOutputData, nil, &d); err != nil {
		return OutputReading{}, err
	}
	return OutputReading{
		P1:  int(d.P1),
		P2:  int(d.P2),
		E1:  float64(d.E1),
		E2:  float64(d.E2),
		TE1: float64(d.TE1),
		TE2: float64(d.TE2),
	}, nil
}

// GetPowerStatus reads the output switch state
func (c *HTTPClient) GetPowerStatus(ctx context.Context) (PowerStatus, error) {
	var d onOffData
	if err := c.call(ctx, "get_power_status", endpointGetOnOff, nil, &d); err != nil {
		return PowerUnknown, err
	}
	return c.parseStatus("get_power_status", endpointGetOnOff, d.Status)
}

// SetPowerStatus switches the output on or off
func (c *HTTPClient) SetPowerStatus(ctx context.Context, on bool) (PowerStatus, error) {
	status := statusOff
	if on {
		status = statusOn
	}
	var d onOffData
	if err := c.call(ctx, "set_power_status", endpointSetOnOff, url.Values{"status": {status}}, &d); err != nil {
		return PowerUnknown, err
	}
	return c.parseStatus("set_power_status", endpointSetOnOff, d.Status)
}

// GetMaxPower reads the configured output limit
func (c *HTTPClient) GetMaxPower(ctx context.Context) (int, error) {
	var d maxPowerData
	if err := c.call(ctx, "get_max_power", endpointGetMaxPower, nil, &d); err != nil {
		return 0, err
	}
	return int(d.MaxPower), nil
}

// SetMaxPower sets the output limit
func (c *HTTPClient) SetMaxPower(ctx context.Context, watts int) (int, error) {
	var d maxPowerData
	q := url.Values{"p": {strconv.Itoa(watts)}}
	if err := c.call(ctx, "set_max_power", endpointSetMaxPower, q, &d); err != nil {
		return 0, err
	}
	return int(d.MaxPower), nil
}

func (c *HTTPClient) parseStatus(op, endpoint, status string) (PowerStatus, error) {
	switch strings.TrimSpace(status) {
	case statusOn:
		return PowerOn, nil
	case statusOff:
		return PowerOff, nil
	}
	return PowerUnknown, c.deviceError(op, endpoint, fmt.Errorf("unexpected status %q", status))
}

func (c *HTTPClient) call(ctx context.Context, op, endpoint string, query url.Values, out interface{}) error {
	u := c.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return c.deviceError(op, endpoint, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.deviceError(op, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.deviceError(op, endpoint, fmt.Errorf("unexpected HTTP status %s", resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.deviceError(op, endpoint, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return c.deviceError(op, endpoint, fmt.Errorf("decode response: %w", err))
	}
	if env.Message != messageSuccess {
		return c.deviceError(op, endpoint, fmt.Errorf("device answered %q", env.Message))
	}
	if len(env.Data) == 0 {
		return c.deviceError(op, endpoint, fmt.Errorf("response has no data"))
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return c.deviceError(op, endpoint, fmt.Errorf("decode data: %w", err))
	}
	return nil
}

func (c *HTTPClient) deviceError(op, endpoint string, err error) error {
	de := errors.NewDeviceError(op, err, c.host)
	de.Endpoint = endpoint
	return de
}
