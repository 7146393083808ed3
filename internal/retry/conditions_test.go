package retry

import (
	"errors"
	"io"
	"net"
	"net/url"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestRetryableStatusCodes(t *testing.T) {
	c := RetryableStatusCodes()

	tests := []struct {
		statusCode int
		want       bool
	}{
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{504, true},
		{200, false},
		{400, false},
		{404, false},
		{501, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, c.ShouldRetry(nil, tt.statusCode), "status %d", tt.statusCode)
	}
}

func TestNetworkErrorCondition(t *testing.T) {
	c := RetryOnNetworkErrors()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"timeout", timeoutError{}, true},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"url timeout", &url.Error{Op: "Get", Err: timeoutError{}}, true},
		{"connection reset", syscall.ECONNRESET, true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"eof", io.EOF, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.ShouldRetry(tt.err, 0))
		})
	}
}

func TestTimeoutCondition(t *testing.T) {
	c := RetryOnTimeout()

	assert.True(t, c.ShouldRetry(timeoutError{}, 0))
	assert.True(t, c.ShouldRetry(&url.Error{Op: "Get", Err: timeoutError{}}, 0))
	assert.False(t, c.ShouldRetry(errors.New("boom"), 0))
	assert.False(t, c.ShouldRetry(nil, 0))
}

func TestRetryOnAny(t *testing.T) {
	c := RetryOnAny(RetryableStatusCodes(), RetryOnNetworkErrors())

	assert.True(t, c.ShouldRetry(nil, 503))
	assert.True(t, c.ShouldRetry(io.EOF, 0))
	assert.False(t, c.ShouldRetry(errors.New("boom"), 200))
}

func TestNeverRetry(t *testing.T) {
	c := NeverRetry()

	assert.False(t, c.ShouldRetry(errors.New("boom"), 503))
	assert.False(t, c.ShouldRetry(&net.OpError{Op: "dial", Err: errors.New("x")}, 0))
}

func TestRetryOnStatusCodes_Custom(t *testing.T) {
	c := RetryOnStatusCodes(418)

	assert.True(t, c.ShouldRetry(nil, 418))
	assert.False(t, c.ShouldRetry(nil, 503))
}
