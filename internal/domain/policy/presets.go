package policy

// Preset names.
const (
	PresetDefaultName  = "default"
	PresetReadOnlyName = "readonly"
)

// defaultChainTokens covers sequencing, conditional chaining, background
// jobs, pipelines, substitution, redirection and embedded newlines.
// Longer tokens come first so the reported token is the most specific one.
var defaultChainTokens = []string{
	"&&", "||", ";", "&", "|", "`", "$(", ">", "<", "\n", "\r",
}

var defaultDenyPatterns = []DenyPattern{
	{Name: "recursive-delete", Pattern: `\brm\s+(-\S+\s+)*(-[A-Za-z]*[rR][A-Za-z]*|--recursive)\b`},
	{Name: "filesystem-format", Pattern: `\bmkfs(\.[a-z0-9]+)?\b`},
	{Name: "raw-block-write", Pattern: `\bdd\b`},
	{Name: "power-state", Pattern: `\b(shutdown|reboot|poweroff|halt)\b`},
	{Name: "runlevel-change", Pattern: `\b(init|telinit)\s+[06]\b`},
	{Name: "firewall-flush", Pattern: `\biptables\s+(-F|--flush)\b`},
	{Name: "nftables-flush", Pattern: `\bnft\s+flush\b`},
	{Name: "fork-bomb", Pattern: `:\(\)\s*\{`},
	{Name: "download-to-shell", Pattern: `\b(curl|wget)\b.*\|\s*(ba|da|z)?sh\b`},
	{Name: "nested-remote-shell", Pattern: `^(sudo\s+)?(ssh|scp|sftp)\b`},
	{Name: "remote-shell-target", Pattern: `\b(ssh|scp|sftp)\s+(-\S+\s+)*[^\s@]+@`},
	{Name: "network-config-change", Pattern: `\bip\s+(-\S+\s+)*\S+\s+(add|del|delete|flush|set|change|replace|append|prepend|restore)\b`},
	{Name: "clock-change", Pattern: `^date\s+((\S+\s+)*(-s|--set)\b|(-u\s+)?[0-9])`},
	{Name: "hostname-change", Pattern: `^hostname\s+([^-\s]|-[A-Za-z]*[bF]|--(boot|file)\b)`},
	{Name: "journal-maintenance", Pattern: `\bjournalctl\b.*\s--(vacuum|rotate|flush|sync|relinquish|smart-relinquish|setup-keys|update-catalog)`},
	{Name: "socket-kill", Pattern: `\bss\s+(\S+\s+)*(-[A-Za-z]*K|--kill)\b`},
}

var diagnosticPrefixes = []string{
	"uname",
	"uptime",
	"date",
	"whoami",
	"id",
	"hostname",
	"cat /etc/os-release",
	"lsb_release",
	"df",
	"free",
	"ps",
	"top -b -n1",
	"systemctl status",
	"systemctl is-active",
	"systemctl is-enabled",
	"systemctl list-units",
	"journalctl",
	"ss",
	"ip -br a",
	"ip -br addr",
	"ip -br link",
	"ip a show",
	"ip addr show",
	"ip r show",
	"ip route show",
	"ip route get",
	"ip link show",
	"ping",
	"dig",
	"nslookup",
	"tail",
	"head",
	"grep",
	"ls",
	"stat",
	"du",
	"lsblk",
	"dpkg -l",
	"apt-cache policy",
	"nginx -v",
	"nginx -t",
}

var packageAndServicePrefixes = []string{
	"apt-get update",
	"apt-get upgrade",
	"apt-get install",
	"apt-get remove",
	"dnf update",
	"dnf install",
	"dnf remove",
	"yum update",
	"yum install",
	"yum remove",
	"systemctl restart",
	"systemctl reload",
}

// PresetDefault returns the "default" preset: diagnostics plus package
// management and service restarts, with apt-get normalized for unattended use.
func PresetDefault() Profile {
	return Profile{
		Name:         PresetDefaultName,
		Description:  "Read-only diagnostics plus package installs and service restarts.",
		ChainTokens:  append([]string(nil), defaultChainTokens...),
		DenyPatterns: append([]DenyPattern(nil), defaultDenyPatterns...),
		ReadOnly:     append([]string(nil), diagnosticPrefixes...),
		Change:       append([]string(nil), packageAndServicePrefixes...),
		NormalizeApt: true,
	}
}

// PresetReadOnly returns the "readonly" preset: diagnostics only.
func PresetReadOnly() Profile {
	return Profile{
		Name:         PresetReadOnlyName,
		Description:  "Read-only diagnostics. No state-changing commands.",
		ChainTokens:  append([]string(nil), defaultChainTokens...),
		DenyPatterns: append([]DenyPattern(nil), defaultDenyPatterns...),
		ReadOnly:     append([]string(nil), diagnosticPrefixes...),
	}
}

// PresetNames returns the names of all built-in presets.
func PresetNames() []string {
	return []string{PresetDefaultName, PresetReadOnlyName}
}

// IsPreset returns true if the given name is a built-in preset.
func IsPreset(name string) bool {
	_, ok := PresetByName(name)
	return ok
}

// PresetByName returns a preset by name, or false if not found.
func PresetByName(name string) (Profile, bool) {
	switch name {
	case PresetDefaultName:
		return PresetDefault(), true
	case PresetReadOnlyName:
		return PresetReadOnly(), true
	default:
		return Profile{}, false
	}
}
