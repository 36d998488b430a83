package ssh

import "sort"

// PlatformProfile describes how the driver talks to one network OS
// family. Exactly one of FetchCommand or ConfigPath must be set: CLI
// platforms print their running config on request, file-backed platforms
// expose it as a file read over SFTP.
type PlatformProfile struct {
	// Platform is the network OS identifier this profile serves.
	Platform string

	// FetchCommand prints the running configuration on stdout.
	FetchCommand string

	// ConfigPath is the remote path of the configuration file for
	// platforms that persist their config as a file.
	ConfigPath string

	// SetupCommands run once after connect, before any push or fetch.
	// Typically used to disable pagination.
	SetupCommands []string
}

// builtinProfiles covers the platform families the driver knows out of
// the box. Unknown platforms need an explicit Profile in the Config.
var builtinProfiles = map[string]*PlatformProfile{
	"cisco_ios": {
		Platform:      "cisco_ios",
		FetchCommand:  "show running-config",
		SetupCommands: []string{"terminal length 0", "terminal width 512"},
	},
	"cisco_nxos": {
		Platform:      "cisco_nxos",
		FetchCommand:  "show running-config",
		SetupCommands: []string{"terminal length 0"},
	},
	"arista_eos": {
		Platform:      "arista_eos",
		FetchCommand:  "show running-config",
		SetupCommands: []string{"terminal length 0", "terminal dont-ask"},
	},
	"juniper_junos": {
		Platform:      "juniper_junos",
		FetchCommand:  "show configuration | display set",
		SetupCommands: []string{"set cli screen-length 0"},
	},
	"sonic": {
		Platform:   "sonic",
		ConfigPath: "/etc/sonic/config_db.json",
	},
}

// ProfileFor returns the builtin profile for a platform.
func ProfileFor(platform string) (*PlatformProfile, bool) {
	profile, ok := builtinProfiles[platform]
	return profile, ok
}

// Platforms returns the platform names with builtin profiles, sorted.
func Platforms() []string {
	names := make([]string, 0, len(builtinProfiles))
	for name := range builtinProfiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
