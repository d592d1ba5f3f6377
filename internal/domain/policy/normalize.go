package policy

import "strings"

// aptAssumeYes lists apt-get subcommands that prompt for confirmation.
var aptAssumeYes = map[string]bool{
	"install":      true,
	"upgrade":      true,
	"remove":       true,
	"dist-upgrade": true,
	"autoremove":   true,
	"purge":        true,
}

// Normalize returns the command that should actually be executed for an
// allowed command. With NormalizeApt set, apt-get runs under non-interactive
// sudo with DEBIAN_FRONTEND=noninteractive and -y where it would prompt.
// Every other command is returned trimmed and otherwise untouched.
func (c *Classifier) Normalize(command string) string {
	cmd := strings.TrimSpace(command)
	if !c.normalizeApt {
		return cmd
	}
	fields := strings.Fields(cmd)
	if len(fields) < 2 || fields[0] != "apt-get" {
		return cmd
	}
	if aptAssumeYes[fields[1]] && !hasAssumeYes(fields[2:]) {
		cmd += " -y"
	}
	return "sudo -n DEBIAN_FRONTEND=noninteractive " + cmd
}

func hasAssumeYes(args []string) bool {
	for _, a := range args {
		switch a {
		case "-y", "--yes", "--assume-yes", "-qy", "-yq":
			return true
		}
	}
	return false
}
