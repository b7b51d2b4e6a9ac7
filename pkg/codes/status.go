package codes

// Session Status Codes
const (
	StatusDisconnected = "disconnected"
	StatusConnected    = "connected"
	StatusBinding      = "binding"
	StatusBound        = "bound"
	StatusListening    = "listening"
	StatusDraining     = "draining" // Claiming and submitting outbound work
	StatusUnbinding    = "unbinding"
	StatusUnbound      = "unbound"
)

// Default channel names
const (
	DefaultInboundChannel = "new_mo_msg"
)

// Priority flag levels accepted on outbound messages.
const (
	PriorityLevel0 = 0
	PriorityLevel1 = 1
	PriorityLevel2 = 2 // Default for router replies
	PriorityLevel3 = 3
)

// ValidPriority reports whether p is an accepted priority_flag value.
func ValidPriority(p int) bool {
	return p >= PriorityLevel0 && p <= PriorityLevel3
}
