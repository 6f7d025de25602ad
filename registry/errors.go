package registry

type ErrInvalidFlow struct {
	msg string
}

func (e *ErrInvalidFlow) Error() string {
	return e.msg
}

type ErrFlowAlreadyRegistered struct {
	msg string
}

func (e *ErrFlowAlreadyRegistered) Error() string {
	return e.msg
}

type ErrProtocolAlreadyRegistered struct {
	msg string
}

func (e *ErrProtocolAlreadyRegistered) Error() string {
	return e.msg
}
