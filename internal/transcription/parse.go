package transcription

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	errCodeField    = "err_code"
	transcriptField = "transcript"
)

// reply is what the response parser extracted from the raw bytes.
type reply struct {
	statusCode int
	hasJSON    bool
	result     Result
}

// parseReply classifies a raw HTTP response. Everything before the first '{'
// is treated as header noise. An error code takes precedence over a
// transcript; anything else is no speech.
func parseReply(raw []byte) reply {
	rep := reply{statusCode: statusCode(raw)}

	start := bytes.IndexByte(raw, '{')
	if start < 0 {
		return rep
	}
	rep.hasJSON = true

	body := raw[start:]
	if end := bytes.LastIndexByte(body, '}'); end >= 0 {
		body = body[:end+1]
	}

	var res Result
	if gjson.ValidBytes(body) {
		res = classifyJSON(gjson.ParseBytes(body))
	} else {
		res = classifyMarkers(body)
	}
	res.StatusCode = rep.statusCode
	rep.result = res
	return rep
}

func classifyJSON(doc gjson.Result) Result {
	if code, ok := findKey(doc, errCodeField, func(gjson.Result) bool { return true }); ok {
		return serverError(code.String())
	}

	isString := func(v gjson.Result) bool { return v.Type == gjson.String }
	if text, ok := findKey(doc, transcriptField, isString); ok && text.String() != "" {
		return Result{Kind: KindTranscript, Text: text.String()}
	}
	return Result{Kind: KindNoSpeech}
}

// findKey returns the first value stored under key that satisfies match,
// searching the document depth-first in source order.
func findKey(node gjson.Result, key string, match func(gjson.Result) bool) (gjson.Result, bool) {
	if !node.IsObject() && !node.IsArray() {
		return gjson.Result{}, false
	}

	var (
		found gjson.Result
		ok    bool
	)
	node.ForEach(func(k, v gjson.Result) bool {
		if node.IsObject() && k.String() == key && match(v) {
			found, ok = v, true
			return false
		}
		if hit, deep := findKey(v, key, match); deep {
			found, ok = hit, true
			return false
		}
		return true
	})
	return found, ok
}

// classifyMarkers handles truncated or otherwise malformed bodies with the
// same substring rules as the structured path.
func classifyMarkers(body []byte) Result {
	text := string(body)

	if idx := strings.Index(text, `"`+errCodeField+`"`); idx >= 0 {
		code := ""
		if v, ok := quotedValueAfter(text[idx:], `"`+errCodeField+`":"`); ok {
			code = v
		}
		if code == "" && strings.Contains(text, slowUploadCode) {
			code = slowUploadCode
		}
		return serverError(code)
	}

	if v, ok := quotedValueAfter(text, `"`+transcriptField+`":"`); ok && v != "" {
		return Result{Kind: KindTranscript, Text: v}
	}
	return Result{Kind: KindNoSpeech}
}

// quotedValueAfter returns the string literal that follows marker, up to the
// next unescaped quote.
func quotedValueAfter(text, marker string) (string, bool) {
	idx := strings.Index(text, marker)
	if idx < 0 {
		return "", false
	}
	rest := text[idx+len(marker):]

	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case '\\':
			i++
		case '"':
			raw := rest[:i]
			if unquoted, err := strconv.Unquote(`"` + raw + `"`); err == nil {
				return unquoted, true
			}
			return raw, true
		}
	}
	return "", false
}

func serverError(code string) Result {
	res := Result{Kind: KindServerError, ErrorCode: code, ServerError: ServerErrorGeneric}
	if strings.Contains(code, slowUploadCode) {
		res.ServerError = ServerErrorSlowUpload
	}
	return res
}

// statusCode reads the status from an "HTTP/1.1 200 OK" line, or 0.
func statusCode(raw []byte) int {
	if !bytes.HasPrefix(raw, []byte("HTTP/")) {
		return 0
	}
	line := raw
	if end := bytes.IndexByte(raw, '\n'); end >= 0 {
		line = raw[:end]
	}
	fields := strings.Fields(string(line))
	if len(fields) < 2 {
		return 0
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return code
}

// responseComplete reports whether raw holds a full HTTP response according
// to its Content-Length. known is false when the length cannot be determined yet.
func responseComplete(raw []byte) (complete, known bool) {
	headerEnd := bytes.Index(raw, []byte("\r\n\r\n"))
	if headerEnd < 0 {
		return false, false
	}

	for _, line := range strings.Split(string(raw[:headerEnd]), "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return false, false
		}
		return len(raw)-(headerEnd+4) >= n, true
	}
	return false, false
}
