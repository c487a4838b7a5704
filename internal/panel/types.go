package panel

import "time"

// Config holds the hosting panel connection and provisioning settings.
type Config struct {
	// BaseURL is the panel root, e.g. https://panel.example.com.
	BaseURL string

	// APIKey is the application API key.
	APIKey string

	// ClientAPIKey is the client API key used for power actions.
	// Falls back to APIKey when empty.
	ClientAPIKey string

	// Timeout bounds every request.
	Timeout time.Duration

	// NestID, EggID and NodeID select where servers are created.
	NestID int64
	EggID  int64
	NodeID int64

	// Template describes the resources of created servers.
	Template ServerTemplate
}

// ServerTemplate is the fixed resource template for provisioned servers.
type ServerTemplate struct {
	DockerImage string
	Startup     string
	Environment map[string]string

	Memory int64
	Swap   int64
	Disk   int64
	IO     int64
	CPU    int64

	Databases int64
	Backups   int64
}

// DefaultServerTemplate returns the Java game server template.
func DefaultServerTemplate() ServerTemplate {
	return ServerTemplate{
		DockerImage: "ghcr.io/pterodactyl/yolks:java_21",
		Startup:     "java -Xms128M -XX:MaxRAMPercentage=95.0 -Dterminal.jline=false -Dterminal.ansi=true -jar {{SERVER_JARFILE}}",
		Environment: map[string]string{
			"SERVER_JARFILE":    "server.jar",
			"MINECRAFT_VERSION": "latest",
			"BUILD_NUMBER":      "latest",
		},
		Memory:    2048,
		Swap:      0,
		Disk:      1000,
		IO:        500,
		CPU:       100,
		Databases: 0,
		Backups:   0,
	}
}

// Account is a panel user.
type Account struct {
	ID        int64  `json:"id"`
	UUID      string `json:"uuid"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	RootAdmin bool   `json:"root_admin"`
}

// Limits are the resource limits of a server.
type Limits struct {
	Memory int64 `json:"memory"`
	Swap   int64 `json:"swap"`
	Disk   int64 `json:"disk"`
	IO     int64 `json:"io"`
	CPU    int64 `json:"cpu"`
}

// FeatureLimits are the feature quotas of a server.
type FeatureLimits struct {
	Databases   int64 `json:"databases"`
	Allocations int64 `json:"allocations"`
	Backups     int64 `json:"backups"`
}

// ServerInfo is a panel server as returned by the application API.
type ServerInfo struct {
	// ID is the numeric id used by the application API.
	ID int64 `json:"id"`

	// Identifier is the short id used by the client API and as the remote id.
	Identifier string `json:"identifier"`

	UUID          string        `json:"uuid"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	Suspended     bool          `json:"suspended"`
	User          int64         `json:"user"`
	Node          int64         `json:"node"`
	Allocation    int64         `json:"allocation"`
	Limits        Limits        `json:"limits"`
	FeatureLimits FeatureLimits `json:"feature_limits"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Allocation is an ip:port binding on a node.
type Allocation struct {
	ID       int64  `json:"id"`
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Assigned bool   `json:"assigned"`
}

// Power signals accepted by the client API.
const (
	SignalStart   = "start"
	SignalStop    = "stop"
	SignalRestart = "restart"
	SignalKill    = "kill"
)

// object is the panel's resource envelope.
type object[T any] struct {
	Object     string `json:"object"`
	Attributes T      `json:"attributes"`
}

// list is the panel's paginated list envelope.
type list[T any] struct {
	Object string      `json:"object"`
	Data   []object[T] `json:"data"`
	Meta   struct {
		Pagination struct {
			Total       int `json:"total"`
			Count       int `json:"count"`
			PerPage     int `json:"per_page"`
			CurrentPage int `json:"current_page"`
			TotalPages  int `json:"total_pages"`
		} `json:"pagination"`
	} `json:"meta"`
}

// egg is the subset of egg attributes read during allocation lookup.
type egg struct {
	ID            int64 `json:"id"`
	Relationships struct {
		Allocations struct {
			Data []object[Allocation] `json:"data"`
		} `json:"allocations"`
	} `json:"relationships"`
}

type createAccountRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"`
	RootAdmin bool   `json:"root_admin"`
	Language  string `json:"language"`
}

type createServerRequest struct {
	Name          string            `json:"name"`
	User          int64             `json:"user"`
	Nest          int64             `json:"nest"`
	Egg           int64             `json:"egg"`
	DockerImage   string            `json:"docker_image"`
	Startup       string            `json:"startup"`
	Environment   map[string]string `json:"environment"`
	Limits        Limits            `json:"limits"`
	FeatureLimits FeatureLimits     `json:"feature_limits"`
	Allocation    struct {
		Default int64 `json:"default"`
	} `json:"allocation"`
}

type powerRequest struct {
	Signal string `json:"signal"`
}
