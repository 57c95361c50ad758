package asterisque

import "github.com/asterisque/asterisque/asterisque/common"

// Role aliases common.Role so callers binding a Wire do not need a
// second import just for the two role constants.
type Role = common.Role

const (
	// Primary is the peer that accepted the transport connection.
	Primary = common.Primary
	// Secondary is the peer that initiated it.
	Secondary = common.Secondary
)
