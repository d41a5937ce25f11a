package biocore

// ErrorInfo is the transport-neutral error slot of a Result.
type ErrorInfo struct {
	Code    string `json:"code" yaml:"code"`
	Message string `json:"message" yaml:"message"`
}

// Result is the {success, data|error} envelope every core operation maps to,
// so it can be carried by any RPC transport unchanged.
type Result[T any] struct {
	Success bool       `json:"success" yaml:"success"`
	Data    T          `json:"data,omitempty" yaml:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty" yaml:"error,omitempty"`
}

func OK[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

func Fail[T any](err error) Result[T] {
	if err == nil {
		return Result[T]{Success: false, Error: &ErrorInfo{Code: CodeHandlerError, Message: "unknown error"}}
	}
	code := ErrorCode(err)
	if code == "" {
		code = CodeHandlerError
	}
	return Result[T]{
		Success: false,
		Error:   &ErrorInfo{Code: code, Message: ErrorMessage(err)},
	}
}

// ResultOf folds a (value, error) pair into an envelope.
func ResultOf[T any](data T, err error) Result[T] {
	if err != nil {
		return Fail[T](err)
	}
	return OK(data)
}
