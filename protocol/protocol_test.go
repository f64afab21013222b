package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestEncodeMeta(t *testing.T) {
	id := uuid.MustParse("5f0c6c1c-4a5e-4d3a-9f44-3f1b1d2a8c10")

	cases := []struct {
		name string
		env  Envelope
		exp  string
	}{
		{
			name: "global renderer without query",
			env:  NewEnvelope(id, nil, "/home", nil),
			exp:  `{"requestId":"5f0c6c1c-4a5e-4d3a-9f44-3f1b1d2a8c10","requestRenderer":null,"url":{"path":"/home","query":null}}`,
		},
		{
			name: "per-request renderer with query",
			env:  NewEnvelope(id, strPtr("/srv/renderer.js"), "/search", strPtr("q=go&page=2")),
			exp:  `{"requestId":"5f0c6c1c-4a5e-4d3a-9f44-3f1b1d2a8c10","requestRenderer":"/srv/renderer.js","url":{"path":"/search","query":"q=go&page=2"}}`,
		},
		{
			name: "markup characters are not escaped",
			env:  NewEnvelope(id, strPtr("/srv/a&b<c>.js"), "/", strPtr("x=<y>&z")),
			exp:  `{"requestId":"5f0c6c1c-4a5e-4d3a-9f44-3f1b1d2a8c10","requestRenderer":"/srv/a&b<c>.js","url":{"path":"/","query":"x=<y>&z"}}`,
		},
		{
			name: "empty query is kept",
			env:  NewEnvelope(id, nil, "/", strPtr("")),
			exp:  `{"requestId":"5f0c6c1c-4a5e-4d3a-9f44-3f1b1d2a8c10","requestRenderer":null,"url":{"path":"/","query":""}}`,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b, err := EncodeMeta(c.env)
			require.NoError(t, err)
			assert.Equal(t, c.exp, string(b))

			env, err := DecodeMeta(b)
			require.NoError(t, err)
			assert.Equal(t, c.env, env)
		})
	}
}

func TestEncodeData(t *testing.T) {
	cases := []struct {
		name     string
		data     any
		expWire  string
		expInner string
	}{
		{
			name:     "plain string",
			data:     "hi",
			expWire:  `"\"hi\""`,
			expInner: `"hi"`,
		},
		{
			name:     "markup is escaped",
			data:     "<script>alert('x')</script>",
			expWire:  `"\"\u003cscript\u003ealert('x')\u003c/script\u003e\""`,
			expInner: `"<script>alert('x')</script>"`,
		},
		{
			name:     "ampersand",
			data:     map[string]string{"a": "b&c"},
			expWire:  `"{\"a\":\"b\u0026c\"}"`,
			expInner: `{"a":"b&c"}`,
		},
		{
			name:     "unicode",
			data:     "héllo 世界 🎉",
			expWire:  `"\"héllo 世界 🎉\""`,
			expInner: `"héllo 世界 🎉"`,
		},
		{
			name:     "null",
			data:     nil,
			expWire:  `"null"`,
			expInner: `null`,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b, err := EncodeData(c.data)
			require.NoError(t, err)
			assert.Equal(t, c.expWire, string(b))
			assert.NotContains(t, string(b), "<")
			assert.NotContains(t, string(b), ">")
			assert.NotContains(t, string(b), "&")

			raw, err := DecodeDataJSON(b)
			require.NoError(t, err)
			assert.Equal(t, c.expInner, string(raw))
		})
	}
}

func TestEncodeDataUnsupported(t *testing.T) {
	_, err := EncodeData(make(chan int))
	var typeErr *json.UnsupportedTypeError
	assert.ErrorAs(t, err, &typeErr)
}

func TestDecodeData(t *testing.T) {
	type page struct {
		Title string   `json:"title"`
		Tags  []string `json:"tags"`
	}
	in := page{Title: "<b>Tom & Jerry</b>", Tags: []string{"a>b", "ü"}}

	b, err := EncodeData(in)
	require.NoError(t, err)

	var out page
	require.NoError(t, DecodeData(b, &out))
	assert.Equal(t, in, out)
}

func TestFrameRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		data any
	}{
		{name: "ascii", data: "hello world"},
		{name: "unicode", data: "Grüße, 你好, مرحبا"},
		{name: "markup", data: "<div class=\"x\">&amp;</div>"},
		{name: "empty", data: ""},
		{name: "object", data: map[string]any{"n": 1.5, "list": []any{"x", true}}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			env := NewEnvelope(uuid.New(), strPtr("./r.js"), "/p", nil)
			meta, err := EncodeMeta(env)
			require.NoError(t, err)
			data, err := EncodeData(c.data)
			require.NoError(t, err)

			buf := &bytes.Buffer{}
			f := Frame{Meta: meta, Data: data}
			n, err := f.WriteTo(buf)
			require.NoError(t, err)
			assert.EqualValues(t, headerSize+len(meta)+len(data), n)

			wire := buf.Bytes()
			assert.EqualValues(t, len(meta), binary.BigEndian.Uint32(wire[0:4]))
			assert.EqualValues(t, len(data), binary.BigEndian.Uint32(wire[4:8]))

			// one byte at a time, like a renderer receiving many small chunks
			got, err := ReadFrame(iotest.OneByteReader(bytes.NewReader(wire)))
			require.NoError(t, err)
			assert.Equal(t, meta, got.Meta)
			assert.Equal(t, data, got.Data)

			gotEnv, err := DecodeMeta(got.Meta)
			require.NoError(t, err)
			assert.Equal(t, env, gotEnv)

			expInner, err := json.Marshal(c.data)
			require.NoError(t, err)
			var exp, actual any
			require.NoError(t, json.Unmarshal(expInner, &exp))
			require.NoError(t, DecodeData(got.Data, &actual))
			assert.Equal(t, exp, actual)
		})
	}
}

type countingWriter struct {
	writes int
	buf    bytes.Buffer
}

func (w *countingWriter) Write(b []byte) (int, error) {
	w.writes++
	return w.buf.Write(b)
}

func TestFrameSingleWrite(t *testing.T) {
	w := &countingWriter{}
	_, err := Frame{Meta: []byte(`{}`), Data: []byte(`"null"`)}.WriteTo(w)
	require.NoError(t, err)
	assert.Equal(t, 1, w.writes)
}

func TestReadFrameTruncated(t *testing.T) {
	b, err := Frame{Meta: []byte(`{"a":1}`), Data: []byte(`"x"`)}.MarshalBinary()
	require.NoError(t, err)

	_, err = ReadFrame(bytes.NewReader(b[:len(b)-1]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadFrame(bytes.NewReader(b[:3]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestParseResponse(t *testing.T) {
	cases := []struct {
		name   string
		res    string
		expOut string
		expMsg string
	}{
		{name: "markup", res: "<b>hi</b>", expOut: "<b>hi</b>"},
		{name: "empty", res: "", expOut: ""},
		{name: "error word later in body", res: "<p>ERROR: none</p>", expOut: "<p>ERROR: none</p>"},
		{name: "lowercase prefix is output", res: "error:x", expOut: "error:x"},
		{name: "exception", res: "ERROR:TypeError: x is not defined", expMsg: "TypeError: x is not defined"},
		{name: "empty exception", res: "ERROR:", expMsg: ""},
		{name: "multiline stack", res: "ERROR:Error: boom\n    at render (/r.js:1:1)", expMsg: "Error: boom\n    at render (/r.js:1:1)"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out, err := ParseResponse(c.res)
			if c.expMsg == "" && !errorPrefixed(c.res) {
				require.NoError(t, err)
				assert.Equal(t, c.expOut, out)
				return
			}
			var exc *ExceptionError
			require.ErrorAs(t, err, &exc)
			assert.Equal(t, c.expMsg, exc.Message)
			assert.Empty(t, out)
		})
	}
}

func errorPrefixed(s string) bool {
	return len(s) >= len(ErrorPrefix) && s[:len(ErrorPrefix)] == ErrorPrefix
}

func TestReadResponse(t *testing.T) {
	res, err := ReadResponse(iotest.HalfReader(bytes.NewReader([]byte("<p>ünïcode</p>"))))
	require.NoError(t, err)
	assert.Equal(t, "<p>ünïcode</p>", res)

	_, err = ReadResponse(bytes.NewReader([]byte{'o', 'k', 0xff}))
	assert.ErrorIs(t, err, ErrInvalidUTF8)

	boom := errors.New("boom")
	_, err = ReadResponse(iotest.ErrReader(boom))
	assert.ErrorIs(t, err, boom)
}

func TestFormatException(t *testing.T) {
	_, err := ParseResponse(string(FormatException("RangeError: too deep")))
	var exc *ExceptionError
	require.ErrorAs(t, err, &exc)
	assert.Equal(t, "RangeError: too deep", exc.Message)
}
