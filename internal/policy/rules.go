package policy

// defaultRuleSpecs is the builtin pattern table. Patterns are matched
// against normalized command text (lowercase, quotes stripped, single
// spaces), so they never need case classes or flexible quoting.
//
// The table is ordered for readability only; evaluation checks every
// rule and is deterministic for a fixed table.
var defaultRuleSpecs = []struct {
	id          string
	category    Category
	pattern     string
	description string
	severity    Severity
}{
	// Filesystem destruction
	{"fs.rm-root", CategoryFilesystem, `\brm\s+(-[a-z-]+\s+)*[/~]`, "Recursive delete of root or home directory", SeverityCritical},
	{"fs.rm-wipe", CategoryFilesystem, `\brm\s+-[rf]+\s+(-[rf]+\s+)*/\S*`, "Recursive delete of a root-level path", SeverityCritical},
	{"fs.mkfs", CategoryFilesystem, `\bmkfs\b`, "Filesystem creation destroys existing data", SeverityCritical},

	// Remote code execution: fetch-then-execute pipelines
	{"rce.curl-shell", CategoryRCE, `\bcurl\b.*\|\s*(ba|z|fi)?sh\b`, "Remote code execution via curl piped to a shell", SeverityCritical},
	{"rce.wget-shell", CategoryRCE, `\bwget\b.*\|\s*(ba|z|fi)?sh\b`, "Remote code execution via wget piped to a shell", SeverityCritical},
	{"rce.curl-interp", CategoryRCE, `\bcurl\b.*\|\s*(python|perl|ruby|node)`, "Remote code execution via curl piped to an interpreter", SeverityCritical},
	{"rce.wget-interp", CategoryRCE, `\bwget\b.*\|\s*(python|perl|ruby|node)`, "Remote code execution via wget piped to an interpreter", SeverityCritical},
	{"rce.pipe-shell", CategoryRCE, `\|\s*(ba)?sh\s*$`, "Piping arbitrary output into a shell", SeverityHigh},

	// Resource exhaustion
	{"res.forkbomb", CategoryResource, `:\s*\(\s*\)\s*\{.*\}`, "Fork bomb", SeverityCritical},
	{"res.infinite-yes", CategoryResource, `\byes\b\s*\|`, "Unbounded output generator piped onward", SeverityHigh},

	// Direct disk access
	{"disk.dev-write", CategoryDisk, `>\s*/dev/(sd[a-z]|nvme|hd[a-z])`, "Direct write to a block device", SeverityCritical},
	{"disk.dd-dev", CategoryDisk, `\bdd\b.*\bof=/dev/`, "Direct disk write via dd", SeverityCritical},

	// Privilege escalation
	{"priv.sudo", CategoryPrivilege, `\bsudo\b`, "Privilege escalation via sudo", SeverityHigh},
	{"priv.su", CategoryPrivilege, `\bsu\s+-`, "Privilege escalation via su", SeverityHigh},
	{"priv.chmod-root", CategoryPrivilege, `\bchmod\s+(-[a-z]+\s+)*[0-7]*777\s+/`, "World-writable permission change on a root path", SeverityHigh},
	{"priv.chown-root", CategoryPrivilege, `\bchown\s+-r\s+.*\s+/`, "Recursive ownership change on a root path", SeverityHigh},

	// System disruption
	{"sys.systemctl", CategorySystem, `\bsystemctl\s+(stop|disable|mask)\b`, "Service disruption via systemctl", SeverityMedium},
	{"sys.killall", CategorySystem, `\bkillall\b`, "Mass process termination", SeverityMedium},
	{"sys.pkill9", CategorySystem, `\bpkill\s+-9\b`, "Forceful process termination", SeverityMedium},

	// Network exposure: log-only under the standard level
	{"net.nc-listen", CategoryNetwork, `\bnc\s+-l`, "Netcat listener (potential backdoor)", SeverityLow},
	{"net.ssh", CategoryNetwork, `\bssh\s+\S*@`, "Outbound SSH connection", SeverityLow},
}

// DefaultRules returns the builtin rule table. The returned slice is a
// fresh copy; callers may append loaded rules without affecting others.
func DefaultRules() []Rule {
	rules := make([]Rule, 0, len(defaultRuleSpecs))
	for _, spec := range defaultRuleSpecs {
		r, err := NewRule(spec.id, spec.category, spec.pattern, spec.description, spec.severity)
		if err != nil {
			// Builtin patterns are covered by tests; a compile failure
			// here is a programming error.
			panic(err)
		}
		rules = append(rules, r)
	}
	return rules
}
