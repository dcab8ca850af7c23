package fronter

import "errors"

var (
	// ErrInvalidEvent indicates that an event does not satisfy protocol invariants.
	ErrInvalidEvent = errors.New("fronter: invalid event")
	// ErrInvalidSubscription indicates that a subscription configuration is invalid.
	ErrInvalidSubscription = errors.New("fronter: invalid subscription")
	// ErrSubscriptionClosed indicates that a subscription is no longer active.
	ErrSubscriptionClosed = errors.New("fronter: subscription closed")
	// ErrEventDropped indicates a non-blocking backpressure drop.
	ErrEventDropped = errors.New("fronter: event dropped due to backpressure")
	// ErrServiceAlreadyRegistered indicates duplicate service registration.
	ErrServiceAlreadyRegistered = errors.New("fronter: service already registered")
	// ErrServiceNotFound indicates a service lookup miss.
	ErrServiceNotFound = errors.New("fronter: service not found")
	// ErrModuleAlreadyRegistered indicates duplicate module registration.
	ErrModuleAlreadyRegistered = errors.New("fronter: module already registered")
	// ErrDriverAlreadyRegistered indicates duplicate driver registration.
	ErrDriverAlreadyRegistered = errors.New("fronter: driver already registered")
	// ErrInvalidOutboundRequest indicates a malformed outbound request.
	ErrInvalidOutboundRequest = errors.New("fronter: invalid outbound request")
	// ErrOutboundUnsupported indicates the sink cannot perform the operation.
	ErrOutboundUnsupported = errors.New("fronter: outbound operation unsupported")
	// ErrOutboundNotFound indicates the target message or file no longer exists.
	ErrOutboundNotFound = errors.New("fronter: outbound target not found")
	// ErrOutboundForbidden indicates the bot lacks permission for the operation.
	ErrOutboundForbidden = errors.New("fronter: outbound operation forbidden")
	// ErrOutboundRateLimited indicates the platform asked the bot to slow down.
	ErrOutboundRateLimited = errors.New("fronter: outbound operation rate limited")
	// ErrInvalidColor indicates a color string that is not six hex digits.
	ErrInvalidColor = errors.New("fronter: invalid color")
)
