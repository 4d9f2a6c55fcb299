package domain

type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`

	cause error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// Is matches on Code so that derived errors (WithMessage, Wrap) still
// compare equal to the sentinel they came from.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e *AppError) WithMessage(msg string) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: msg,
		Status:  e.Status,
		cause:   e.cause,
	}
}

func (e *AppError) Wrap(cause error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Status:  e.Status,
		cause:   cause,
	}
}

var (
	ErrInvalidRequest = &AppError{
		Code:    "INVALID_REQUEST",
		Message: "Invalid request",
		Status:  400,
	}

	ErrInternalServerError = &AppError{
		Code:    "INTERNAL_SERVER_ERROR",
		Message: "Internal server error",
		Status:  500,
	}

	ErrUserNotFound = &AppError{
		Code:    "USER_NOT_FOUND",
		Message: "User not found",
		Status:  404,
	}

	ErrMessageNotFound = &AppError{
		Code:    "MESSAGE_NOT_FOUND",
		Message: "Message not found",
		Status:  404,
	}

	ErrUsernameTaken = &AppError{
		Code:    "USERNAME_TAKEN",
		Message: "Username is already taken",
		Status:  409,
	}

	ErrAlreadyRegistered = &AppError{
		Code:    "ALREADY_REGISTERED",
		Message: "Connection is already registered",
		Status:  409,
	}

	ErrNotRegistered = &AppError{
		Code:    "NOT_REGISTERED",
		Message: "Register before sending events",
		Status:  409,
	}

	ErrNotFriends = &AppError{
		Code:    "NOT_FRIENDS",
		Message: "You can only message users you are friends with",
		Status:  403,
	}

	ErrDependencyUnavailable = &AppError{
		Code:    "DEPENDENCY_UNAVAILABLE",
		Message: "Service temporarily unavailable, try again",
		Status:  503,
	}

	ErrInvalidToken = &AppError{
		Code:    "TOKEN_INVALID",
		Message: "Token is invalid",
		Status:  401,
	}

	ErrUnauthorizedError = &AppError{
		Code:    "UNAUTHORIZED",
		Message: "Unauthorized",
		Status:  401,
	}

	ErrForbidden = &AppError{
		Code:    "FORBIDDEN",
		Message: "Insufficient permissions",
		Status:  403,
	}
)
