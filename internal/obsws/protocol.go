package obsws

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// OBS websocket v5 opcodes.
const (
	opHello           = 0
	opIdentify        = 1
	opIdentified      = 2
	opEvent           = 5
	opRequest         = 6
	opRequestResponse = 7
)

const rpcVersion = 1

type envelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type outgoing struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

type hello struct {
	ObsWebSocketVersion string `json:"obsWebSocketVersion"`
	RPCVersion          int    `json:"rpcVersion"`
	Authentication      *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication,omitempty"`
}

type identify struct {
	RPCVersion         int    `json:"rpcVersion"`
	Authentication     string `json:"authentication,omitempty"`
	EventSubscriptions int    `json:"eventSubscriptions"`
}

type request struct {
	RequestType string `json:"requestType"`
	RequestID   string `json:"requestId"`
	RequestData any    `json:"requestData,omitempty"`
}

type requestStatus struct {
	Result  bool   `json:"result"`
	Code    int    `json:"code"`
	Comment string `json:"comment,omitempty"`
}

type response struct {
	RequestType   string          `json:"requestType"`
	RequestID     string          `json:"requestId"`
	RequestStatus requestStatus   `json:"requestStatus"`
	ResponseData  json.RawMessage `json:"responseData,omitempty"`
}

// RequestError is returned when OBS answers a request with result=false.
type RequestError struct {
	RequestType string
	Code        int
	Comment     string
}

func (e *RequestError) Error() string {
	if e.Comment == "" {
		return fmt.Sprintf("obsws: %s failed with code %d", e.RequestType, e.Code)
	}
	return fmt.Sprintf("obsws: %s failed with code %d: %s", e.RequestType, e.Code, e.Comment)
}

// authString computes base64(sha256(base64(sha256(password+salt)) + challenge)).
func authString(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	encoded := base64.StdEncoding.EncodeToString(secret[:])
	sum := sha256.Sum256([]byte(encoded + challenge))
	return base64.StdEncoding.EncodeToString(sum[:])
}
