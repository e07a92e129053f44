package protocol

import "strings"

// Role scopes what a participant may do in a session.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleAuctioneer Role = "AUCTIONEER"
	RoleTeam       Role = "TEAM"
	RoleSpectator  Role = "SPECTATOR"
)

// ParseRole accepts any casing of a known role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case RoleAdmin, RoleAuctioneer, RoleTeam, RoleSpectator:
		return r, nil
	}
	return "", Invalid("role", "unknown role %q", s)
}

// Privileged roles drive the auction and may need an attested console key.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleAuctioneer
}

var (
	anyone      = []Role{RoleAdmin, RoleAuctioneer, RoleTeam, RoleSpectator}
	controllers = []Role{RoleAdmin, RoleAuctioneer}
	adminOnly   = []Role{RoleAdmin}
)

// permissions is the edge authorization table.
var permissions = map[CommandKind][]Role{
	CmdInitialize:        controllers,
	CmdStart:             controllers,
	CmdEnd:               adminOnly,
	CmdPause:             controllers,
	CmdResume:            controllers,
	CmdOpenLot:           controllers,
	CmdCloseLot:          controllers,
	CmdExtendTimer:       controllers,
	CmdRequeueLot:        controllers,
	CmdReplaceAuctioneer: adminOnly,
	CmdSubmitBid:         {RoleTeam},
	CmdAudioStart:        {RoleAuctioneer},
	CmdAudioStop:         controllers,
	CmdAudioMute:         {RoleAuctioneer},
	CmdAudioListen:       anyone,
	CmdAudioLeave:        anyone,
	CmdAudioSignal:       anyone,
	CmdAudioStatus:       anyone,
	CmdResync:            anyone,
	CmdAck:               anyone,
}

// Authorize rejects a command the role may not issue. It runs before the
// command reaches the session.
func Authorize(role Role, cmd Command) error {
	kind := cmd.Kind()
	allowed, ok := permissions[kind]
	if !ok {
		return &AuthorizationError{Role: role, Command: kind, Reason: "unknown command"}
	}
	permitted := false
	for _, r := range allowed {
		if r == role {
			permitted = true
			break
		}
	}
	if !permitted {
		return &AuthorizationError{Role: role, Command: kind}
	}
	if c, ok := cmd.(CloseLot); ok && c.Force && role != RoleAdmin {
		return &AuthorizationError{Role: role, Command: kind, Reason: "force close is an admin override"}
	}
	return nil
}
