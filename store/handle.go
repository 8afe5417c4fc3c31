package store

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Receipt handles and task handles are opaque to clients. Both are URL-safe
// base64 of two colon-separated fields.

func encodeReceiptHandle(messageID, nonce string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(messageID + ":" + nonce))
}

func decodeReceiptHandle(handle string) (messageID, nonce string, err error) {
	messageID, nonce, err = decodePair(handle)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidReceiptHandle, err)
	}
	return messageID, nonce, nil
}

func encodeTaskHandle(taskID, sourceArn string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(taskID + ":" + sourceArn))
}

func decodeTaskHandle(handle string) (taskID, sourceArn string, err error) {
	taskID, sourceArn, err = decodePair(handle)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMoveTaskNotFound, err)
	}
	return taskID, sourceArn, nil
}

func decodePair(s string) (string, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return "", "", fmt.Errorf("malformed handle")
	}
	a, b, ok := strings.Cut(string(raw), ":")
	if !ok || a == "" || b == "" {
		return "", "", fmt.Errorf("malformed handle")
	}
	return a, b, nil
}
