package fetch

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponse_BufferedAccessors(t *testing.T) {
	_, resp := bufferedResponse(t, `{"data":"dog"}`)

	b, err := resp.Bytes()
	require.NoError(t, err)
	assert.Equal(t, `{"data":"dog"}`, string(b))

	text, err := resp.Text()
	require.NoError(t, err)
	assert.Equal(t, `{"data":"dog"}`, text)

	var decoded struct {
		Data string `json:"data"`
	}
	require.NoError(t, resp.JSON(&decoded))
	assert.Equal(t, "dog", decoded.Data)
}

func TestResponse_JSONEmptyBody(t *testing.T) {
	_, resp := bufferedResponse(t, "")

	out := map[string]any{"untouched": true}
	require.NoError(t, resp.JSON(&out))
	assert.Equal(t, map[string]any{"untouched": true}, out)
}

func TestResponse_JSONIntoStruct_Malformed(t *testing.T) {
	_, resp := bufferedResponse(t, "not json")

	var out map[string]any
	err := resp.JSON(&out)
	require.Error(t, err)
	var perr *ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestResponse_StreamingAccessorsRejected(t *testing.T) {
	resp := statusResponse(200, nil)
	resp.streaming = true
	resp.stream = io.NopCloser(strings.NewReader("streamed"))

	_, err := resp.Bytes()
	assert.ErrorIs(t, err, ErrBodyNotBuffered)

	_, err = resp.Text()
	assert.ErrorIs(t, err, ErrBodyNotBuffered)

	assert.ErrorIs(t, resp.JSON(&struct{}{}), ErrBodyNotBuffered)

	data, err := io.ReadAll(resp.Stream())
	require.NoError(t, err)
	assert.Equal(t, "streamed", string(data))
}

func TestResponse_StatusPredicates(t *testing.T) {
	assert.True(t, statusResponse(200, nil).IsSuccess())
	assert.True(t, statusResponse(204, nil).IsSuccess())
	assert.False(t, statusResponse(301, nil).IsSuccess())
	assert.False(t, statusResponse(500, nil).IsSuccess())

	assert.False(t, statusResponse(200, nil).IsError())
	assert.True(t, statusResponse(404, nil).IsError())
	assert.True(t, statusResponse(503, nil).IsError())
}

func TestResponse_ReasonPhrase(t *testing.T) {
	resp := statusResponse(500, nil)
	assert.Equal(t, "Internal Server Error", resp.reasonPhrase())

	resp.Status = "500 Custom Phrase"
	assert.Equal(t, "Custom Phrase", resp.reasonPhrase())
}
