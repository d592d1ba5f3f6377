package policy

import (
	"errors"
	"strings"
	"testing"

	"github.com/Strob0t/opsloop/internal/domain"
)

func mustDefault(t *testing.T) *Classifier {
	t.Helper()
	c, err := NewClassifier(PresetDefault())
	if err != nil {
		t.Fatalf("NewClassifier(default): %v", err)
	}
	return c
}

func TestClassify(t *testing.T) {
	c := mustDefault(t)

	tests := []struct {
		name     string
		command  string
		decision Decision
		tag      Tag
		rule     Rule
		matched  string
	}{
		{"uname", "uname -a", DecisionAllow, TagReadOnly, RuleReadOnly, "uname"},
		{"os release", "cat /etc/os-release", DecisionAllow, TagReadOnly, RuleReadOnly, "cat /etc/os-release"},
		{"systemctl status", "systemctl status nginx", DecisionAllow, TagReadOnly, RuleReadOnly, "systemctl status"},
		{"surrounding whitespace", "   uptime  ", DecisionAllow, TagReadOnly, RuleReadOnly, "uptime"},
		{"apt install", "apt-get install -y nginx", DecisionAllow, TagChange, RuleChange, "apt-get install"},
		{"service restart", "systemctl restart nginx", DecisionAllow, TagChange, RuleChange, "systemctl restart"},
		{"empty", "", DecisionDeny, "", RuleEmpty, ""},
		{"blank", " \t ", DecisionDeny, "", RuleEmpty, ""},
		{"and chain", "ls && rm x", DecisionDeny, "", RuleChainToken, "&&"},
		{"or chain", "ls || true", DecisionDeny, "", RuleChainToken, "||"},
		{"separator", "ls; rm -rf /", DecisionDeny, "", RuleChainToken, ";"},
		{"pipe", "ps aux | grep nginx", DecisionDeny, "", RuleChainToken, "|"},
		{"backtick", "ls `whoami`", DecisionDeny, "", RuleChainToken, "`"},
		{"substitution", "ls $(whoami)", DecisionDeny, "", RuleChainToken, "$("},
		{"redirect", "cat /etc/os-release > /etc/passwd", DecisionDeny, "", RuleChainToken, ">"},
		{"newline", "uptime\nreboot", DecisionDeny, "", RuleChainToken, "\n"},
		{"recursive delete", "rm -rf /var/log/*", DecisionDeny, "", RuleDenyPattern, "recursive-delete"},
		{"recursive delete split flags", "rm -f -r /tmp/x", DecisionDeny, "", RuleDenyPattern, "recursive-delete"},
		{"mkfs", "mkfs.ext4 /dev/sdb1", DecisionDeny, "", RuleDenyPattern, "filesystem-format"},
		{"dd", "dd if=/dev/zero of=/dev/sda", DecisionDeny, "", RuleDenyPattern, "raw-block-write"},
		{"reboot", "systemctl reboot", DecisionDeny, "", RuleDenyPattern, "power-state"},
		{"nested ssh", "ssh other-host", DecisionDeny, "", RuleDenyPattern, "nested-remote-shell"},
		{"firewall flush", "iptables -F", DecisionDeny, "", RuleDenyPattern, "firewall-flush"},
		{"allowlisted prefix with deny pattern", "grep -r x / --exclude=dd", DecisionDeny, "", RuleDenyPattern, "raw-block-write"},
		{"link down", "ip link set eth0 down", DecisionDeny, "", RuleDenyPattern, "network-config-change"},
		{"route flush", "ip route flush table main", DecisionDeny, "", RuleDenyPattern, "network-config-change"},
		{"route delete", "ip route del default", DecisionDeny, "", RuleDenyPattern, "network-config-change"},
		{"addr flush", "ip addr flush dev eth0", DecisionDeny, "", RuleDenyPattern, "network-config-change"},
		{"addr delete short form", "ip a del 10.0.0.5/24 dev eth0", DecisionDeny, "", RuleDenyPattern, "network-config-change"},
		{"addr add with family flag", "ip -4 addr add 10.0.0.9/24 dev eth0", DecisionDeny, "", RuleDenyPattern, "network-config-change"},
		{"set hostname", "hostname pwned", DecisionDeny, "", RuleDenyPattern, "hostname-change"},
		{"hostname from file", "hostname -F /tmp/name", DecisionDeny, "", RuleDenyPattern, "hostname-change"},
		{"set clock", "date -s 2001-01-01", DecisionDeny, "", RuleDenyPattern, "clock-change"},
		{"set clock long flag", "date --set=2001-01-01", DecisionDeny, "", RuleDenyPattern, "clock-change"},
		{"set clock positional", "date 010100002001", DecisionDeny, "", RuleDenyPattern, "clock-change"},
		{"journal vacuum", "journalctl --vacuum-size=1K", DecisionDeny, "", RuleDenyPattern, "journal-maintenance"},
		{"journal rotate", "journalctl -u nginx --rotate", DecisionDeny, "", RuleDenyPattern, "journal-maintenance"},
		{"kill sockets", "ss -K dst 10.0.0.1", DecisionDeny, "", RuleDenyPattern, "socket-kill"},
		{"kill sockets combined flags", "ss -tK dport 22", DecisionDeny, "", RuleDenyPattern, "socket-kill"},
		{"brief addresses", "ip -br a", DecisionAllow, TagReadOnly, RuleReadOnly, "ip -br a"},
		{"route show", "ip route show", DecisionAllow, TagReadOnly, RuleReadOnly, "ip route show"},
		{"link show", "ip link show eth0", DecisionAllow, TagReadOnly, RuleReadOnly, "ip link show"},
		{"bare ip addr", "ip addr", DecisionDeny, "", RuleNotAllowlist, ""},
		{"bare hostname", "hostname", DecisionAllow, TagReadOnly, RuleReadOnly, "hostname"},
		{"hostname addresses", "hostname -I", DecisionAllow, TagReadOnly, RuleReadOnly, "hostname"},
		{"date format", "date +%s", DecisionAllow, TagReadOnly, RuleReadOnly, "date"},
		{"date relative", "date -d yesterday +%F", DecisionAllow, TagReadOnly, RuleReadOnly, "date"},
		{"journal unit", "journalctl -u nginx --since today", DecisionAllow, TagReadOnly, RuleReadOnly, "journalctl"},
		{"listening sockets", "ss -tlnp", DecisionAllow, TagReadOnly, RuleReadOnly, "ss"},
		{"unlisted", "cat /etc/shadow", DecisionDeny, "", RuleNotAllowlist, ""},
		{"prefix needs word boundary", "psql -l", DecisionDeny, "", RuleNotAllowlist, ""},
		{"sudo not allowlisted", "sudo apt-get install nginx", DecisionDeny, "", RuleNotAllowlist, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := c.Classify(tt.command)
			if v.Decision != tt.decision {
				t.Fatalf("Classify(%q).Decision = %s, want %s (reason %q)", tt.command, v.Decision, tt.decision, v.Reason)
			}
			if v.Tag != tt.tag {
				t.Errorf("Tag = %q, want %q", v.Tag, tt.tag)
			}
			if v.Rule != tt.rule {
				t.Errorf("Rule = %q, want %q", v.Rule, tt.rule)
			}
			if v.Matched != tt.matched {
				t.Errorf("Matched = %q, want %q", v.Matched, tt.matched)
			}
			if v.Reason == "" {
				t.Error("Reason must not be empty")
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := mustDefault(t)
	for _, cmd := range []string{"uname -a", "rm -rf /", "", "ls | wc"} {
		if a, b := c.Classify(cmd), c.Classify(cmd); a != b {
			t.Errorf("Classify(%q) not deterministic: %+v vs %+v", cmd, a, b)
		}
	}
}

func TestHostStateChangesDenied(t *testing.T) {
	commands := []string{
		"ip link set eth0 down",
		"ip route flush table main",
		"ip route del default",
		"ip addr flush dev eth0",
		"ip a del 10.0.0.5/24 dev eth0",
		"hostname pwned",
		"date -s 2001-01-01",
		"journalctl --vacuum-size=1K",
		"ss -K dst 10.0.0.1",
	}
	for _, p := range []Profile{PresetDefault(), PresetReadOnly()} {
		c, err := NewClassifier(p)
		if err != nil {
			t.Fatalf("NewClassifier(%s): %v", p.Name, err)
		}
		for _, cmd := range commands {
			if v := c.Classify(cmd); v.Allowed() || v.Rule != RuleDenyPattern {
				t.Errorf("%s: Classify(%q) = %+v, want deny pattern", p.Name, cmd, v)
			}
		}
	}
}

func TestClassifyReadOnlyPreset(t *testing.T) {
	c, err := NewClassifier(PresetReadOnly())
	if err != nil {
		t.Fatal(err)
	}
	if v := c.Classify("apt-get install nginx"); v.Allowed() {
		t.Errorf("readonly preset allowed a change command: %+v", v)
	}
	if v := c.Classify("df -h"); !v.Allowed() || v.Tag != TagReadOnly {
		t.Errorf("readonly preset: df -h = %+v", v)
	}
}

func TestTrailingSpaceEntryMatchesAsPlainPrefix(t *testing.T) {
	c, err := NewClassifier(Profile{Name: "p", ReadOnly: []string{"ip a"}, Change: []string{"echo "}})
	if err != nil {
		t.Fatal(err)
	}
	if v := c.Classify("ip addr"); v.Allowed() {
		t.Errorf("ip addr should not match word-bounded entry %q", "ip a")
	}
	if v := c.Classify("echo hi"); !v.Allowed() {
		t.Errorf("echo hi should match plain prefix entry: %+v", v)
	}
}

func TestNewClassifierRejectsInvalidProfile(t *testing.T) {
	_, err := NewClassifier(Profile{Name: "", ReadOnly: []string{"ls"}})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	_, err = NewClassifier(Profile{Name: "p", ReadOnly: []string{"ls"}, DenyPatterns: []DenyPattern{{Name: "bad", Pattern: "("}}})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for bad pattern, got %v", err)
	}
}

func TestNormalize(t *testing.T) {
	c := mustDefault(t)

	tests := []struct {
		in   string
		want string
	}{
		{"apt-get install nginx", "sudo -n DEBIAN_FRONTEND=noninteractive apt-get install nginx -y"},
		{"apt-get install -y nginx", "sudo -n DEBIAN_FRONTEND=noninteractive apt-get install -y nginx"},
		{"apt-get update", "sudo -n DEBIAN_FRONTEND=noninteractive apt-get update"},
		{"  uname -a ", "uname -a"},
		{"systemctl restart nginx", "systemctl restart nginx"},
	}
	for _, tt := range tests {
		if got := c.Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	ro, err := NewClassifier(PresetReadOnly())
	if err != nil {
		t.Fatal(err)
	}
	if got := ro.Normalize("apt-get install nginx"); strings.HasPrefix(got, "sudo") {
		t.Errorf("readonly preset must not normalize apt-get: %q", got)
	}
}
