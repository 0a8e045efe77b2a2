package common

import (
	"errors"
	"fmt"
)

type ErrNo struct {
	ErrCode int    `json:"err_code"`
	ErrMsg  string `json:"err_msg"`
}

const (
	SUCCESS     = 0
	SERVICE_ERR = iota + 10000
	MALFORMED_REQUEST
	JOB_ALREADY_EXISTS
	JOB_INVALID
	ORCHESTRATOR_UNAVAILABLE
	WATCH_TRANSPORT
	SESSION_EXPIRED
	INPUT_MISSING
	SESSION_NOT_FOUND
)

var errorMsg = map[int]string{
	SUCCESS:                  "success",
	SERVICE_ERR:              "service error",
	MALFORMED_REQUEST:        "malformed request",
	JOB_ALREADY_EXISTS:       "job already exists",
	JOB_INVALID:              "job rejected by orchestrator",
	ORCHESTRATOR_UNAVAILABLE: "orchestrator unavailable",
	WATCH_TRANSPORT:          "watch stream failed",
	SESSION_EXPIRED:          "watch session expired",
	INPUT_MISSING:            "task input missing",
	SESSION_NOT_FOUND:        "no active session",
}

func (e ErrNo) Error() string {
	return fmt.Sprintf("err_code=%d, err_msg=%s", e.ErrCode, e.ErrMsg)
}

// Is matches on the code only, so errors.Is(err, NewErrNo(code)) holds
// whatever detail message was attached.
func (e ErrNo) Is(target error) bool {
	t, ok := target.(ErrNo)
	return ok && t.ErrCode == e.ErrCode
}

func NewErrNo(errCode int) error {
	return ErrNo{
		ErrCode: errCode,
		ErrMsg:  errorMsg[errCode],
	}
}

// WrapErrNo attaches the message of err to the code.
func WrapErrNo(errCode int, err error) error {
	if err == nil {
		return NewErrNo(errCode)
	}
	return ErrNo{
		ErrCode: errCode,
		ErrMsg:  fmt.Sprintf("%s: %v", errorMsg[errCode], err),
	}
}

func ConvertErr(err error) ErrNo {
	e := ErrNo{}
	if errors.As(err, &e) {
		return e
	}
	e = ErrNo{
		ErrCode: SERVICE_ERR,
		ErrMsg:  err.Error(),
	}
	return e
}

func Message(code int) string {
	return errorMsg[code]
}
