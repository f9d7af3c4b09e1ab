package gateway

import "encoding/base64"

func base64URLEncode(b []byte) string {
	return base64.URLEncoding.EncodeToString(b)
}

func base64URLDecode(s string) ([]byte, error) {
	return base64.URLEncoding.DecodeString(s)
}
