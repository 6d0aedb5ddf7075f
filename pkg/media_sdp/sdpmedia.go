// Package media_sdp builds the SDP offer of an outbound INVITE and extracts
// the remote RTP endpoint from the carrier's SDP answer.
package media_sdp

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// Codec is an audio codec with a static payload type
type Codec struct {
	PayloadType uint8
	Name        string
	ClockRate   uint32
}

var (
	PCMA = Codec{PayloadType: 8, Name: "PCMA", ClockRate: 8000}
	PCMU = Codec{PayloadType: 0, Name: "PCMU", ClockRate: 8000}
)

// DefaultPayloadType is used when m=audio in the answer lists no formats
const DefaultPayloadType uint8 = 8

// Answer is the remote media endpoint taken from an SDP answer
type Answer struct {
	RemoteIP    string `json:"remote_ip"`
	RemotePort  int    `json:"remote_port"`
	PayloadType uint8  `json:"payload_type"`
}

// Addr возвращает адрес в формате host:port
func (a Answer) Addr() string {
	return net.JoinHostPort(a.RemoteIP, strconv.Itoa(a.RemotePort))
}

// SDPErrorCode определяет коды ошибок для SDP операций
type SDPErrorCode int

const (
	ErrorCodeInvalidOffer SDPErrorCode = iota + 2000
	ErrorCodeSDPGeneration
	ErrorCodeSDPParsing
	ErrorCodeNoAudio
	ErrorCodeNoConnection
)

// SDPError представляет ошибку SDP операции
type SDPError struct {
	Code    SDPErrorCode
	Message string
	Wrapped error
}

// NewSDPError создает новую SDP ошибку
func NewSDPError(code SDPErrorCode, format string, args ...interface{}) *SDPError {
	return &SDPError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapSDPError оборачивает существующую ошибку в SDPError
func WrapSDPError(code SDPErrorCode, err error, format string, args ...interface{}) *SDPError {
	return &SDPError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Wrapped: err,
	}
}

// Error реализует интерфейс error
func (e *SDPError) Error() string {
	msg := fmt.Sprintf("SDP error [%d]: %s", e.Code, e.Message)
	if e.Wrapped != nil {
		msg += fmt.Sprintf(": %v", e.Wrapped)
	}
	return msg
}

// Unwrap возвращает обернутую ошибку для поддержки errors.Is/As
func (e *SDPError) Unwrap() error {
	return e.Wrapped
}

// IsSDPError проверяет, является ли ошибка SDPError с указанным кодом
func IsSDPError(err error, code SDPErrorCode) bool {
	var sdpErr *SDPError
	if !errors.As(err, &sdpErr) {
		return false
	}
	return sdpErr.Code == code
}
