package protocol

import "errors"

var (
	ErrInvalidStatus       = errors.New("protocol: invalid status")
	ErrInvalidTier         = errors.New("protocol: invalid tier")
	ErrInvalidMode         = errors.New("protocol: invalid interaction mode")
	ErrInvalidEnergy       = errors.New("protocol: invalid energy level")
	ErrInvalidCode         = errors.New("protocol: invalid outcome code")
	ErrInvalidPolicy       = errors.New("protocol: invalid policy")
	ErrInvalidParticipant  = errors.New("protocol: invalid participant")
	ErrInvalidRelationship = errors.New("protocol: invalid relationship")
)
