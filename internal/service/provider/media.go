package provider

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DecodeBase64 解码上游返回的 base64 音频/图片，兼容 data URI 前缀和 URL-safe 编码。
func DecodeBase64(label, data string) ([]byte, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, fmt.Errorf("%s: %w", label, ErrEmptyPayload)
	}
	if idx := strings.Index(data, ";base64,"); idx >= 0 && strings.HasPrefix(data, "data:") {
		data = data[idx+len(";base64,"):]
	}

	decoded, err := base64.StdEncoding.DecodeString(data)
	if err == nil {
		return decoded, nil
	}
	if alt, altErr := base64.URLEncoding.DecodeString(data); altErr == nil {
		return alt, nil
	}
	return nil, fmt.Errorf("%s: decode base64 payload: %w", label, err)
}

// EncodeBase64 is the inverse of DecodeBase64 for the standard alphabet.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
