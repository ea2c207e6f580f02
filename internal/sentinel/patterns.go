package sentinel

import "regexp"

// pattern is a single entry in the threat catalogue. Patterns are evaluated
// in order and every match is collected, not just the first.
type pattern struct {
	id          string
	level       Level
	description string
	weight      int
	re          *regexp.Regexp
}

// Per-match scoring weights by severity. The report score is the sum of the
// weights of all matches, capped at 100.
const (
	weightCritical = 40
	weightHigh     = 25
	weightMedium   = 10
	weightLow      = 5
)

// catalogue is the fixed, ordered threat pattern set. Matching is performed
// against line-continuation-normalized input so wrapping a command across
// physical lines does not defeat detection.
var catalogue = []pattern{
	// ── Destructive filesystem operations ───────────────────────────────────
	{
		id:          "fs_root_delete",
		level:       LevelCritical,
		description: "Recursive deletion of the filesystem root",
		weight:      weightCritical,
		re:          regexp.MustCompile(`(?i)\brm\s+(-[a-z]+\s+)*(-[a-z]*[rf][a-z]*\s+)(/([\s;&|*]|$)|--no-preserve-root)`),
	},
	{
		id:          "fs_format",
		level:       LevelCritical,
		description: "Filesystem format command",
		weight:      weightCritical,
		re:          regexp.MustCompile(`(?i)\bmkfs(\.[a-z0-9]+)?\b`),
	},
	{
		id:          "disk_overwrite",
		level:       LevelCritical,
		description: "Raw write to a block device",
		weight:      weightCritical,
		re:          regexp.MustCompile(`(?i)\bdd\s+[^|;]*\bof=/dev/(sd|hd|vd|xvd|nvme|mmcblk)`),
	},
	{
		id:          "partition_wipe",
		level:       LevelCritical,
		description: "Partition table or device wipe",
		weight:      weightCritical,
		re:          regexp.MustCompile(`(?i)\b(wipefs|blkdiscard)\b|\bshred\s+[^|;]*/dev/`),
	},

	// ── Fork bombs ───────────────────────────────────────────────────────────
	{
		id:          "fork_bomb",
		level:       LevelCritical,
		description: "Shell fork bomb (colon function form)",
		weight:      weightCritical,
		re:          regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;?\s*:`),
	},
	{
		id:          "fork_bomb_named",
		level:       LevelCritical,
		description: "Shell fork bomb (named function form)",
		weight:      weightCritical,
		re:          regexp.MustCompile(`(?i)\b[a-z_][a-z0-9_]*\(\)\s*\{\s*[a-z_][a-z0-9_]*\s*\|\s*[a-z_][a-z0-9_]*\s*&\s*\}`),
	},

	// ── Remote code execution ────────────────────────────────────────────────
	{
		id:          "pipe_to_shell_curl",
		level:       LevelHigh,
		description: "Remote script piped directly into a shell (curl)",
		weight:      weightHigh,
		re:          regexp.MustCompile(`(?i)\bcurl\s+[^|]*\|\s*(sudo\s+)?(ba|z|da)?sh\b`),
	},
	{
		id:          "pipe_to_shell_wget",
		level:       LevelHigh,
		description: "Remote script piped directly into a shell (wget)",
		weight:      weightHigh,
		re:          regexp.MustCompile(`(?i)\bwget\s+[^|]*\|\s*(sudo\s+)?(ba|z|da)?sh\b`),
	},
	{
		id:          "reverse_shell_devtcp",
		level:       LevelHigh,
		description: "Reverse shell via /dev/tcp or /dev/udp redirection",
		weight:      weightHigh,
		re:          regexp.MustCompile(`(?i)/dev/(tcp|udp)/`),
	},
	{
		id:          "reverse_shell_nc",
		level:       LevelHigh,
		description: "Netcat invoked with command execution",
		weight:      weightHigh,
		re:          regexp.MustCompile(`(?i)\bnc(at)?\s+[^|;]*\s-[a-z]*e\b`),
	},

	// ── Credential and key theft ─────────────────────────────────────────────
	{
		id:          "ssh_key_access",
		level:       LevelHigh,
		description: "Access to SSH private key material",
		weight:      weightHigh,
		re:          regexp.MustCompile(`(?i)\.ssh/(id_(rsa|dsa|ecdsa|ed25519)|authorized_keys)`),
	},
	{
		id:          "shadow_file_access",
		level:       LevelHigh,
		description: "Access to the system password shadow file",
		weight:      weightHigh,
		re:          regexp.MustCompile(`(?i)/etc/shadow\b`),
	},

	// ── Covert channels ──────────────────────────────────────────────────────
	{
		id:          "base64_exec",
		level:       LevelHigh,
		description: "Base64-decoded payload piped into a shell",
		weight:      weightHigh,
		re:          regexp.MustCompile(`(?i)\bbase64\s+(-d|--decode)\b[^|]*\|\s*(ba|z)?sh\b`),
	},
	{
		id:          "hidden_file_creation",
		level:       LevelMedium,
		description: "Creation of a hidden dotfile or dot-directory",
		weight:      weightMedium,
		re:          regexp.MustCompile(`(?i)\b(touch|mkdir|cp|mv)\s+([^|;]*[\s/])?\.[a-z0-9_][a-z0-9_.-]*`),
	},
	{
		id:          "cron_persistence",
		level:       LevelMedium,
		description: "Scheduled-task persistence via cron",
		weight:      weightMedium,
		re:          regexp.MustCompile(`(?i)\bcrontab\s+-|/etc/cron`),
	},

	// ── Permission escalation ────────────────────────────────────────────────
	{
		id:          "chown_root",
		level:       LevelMedium,
		description: "Ownership change to root",
		weight:      weightMedium,
		re:          regexp.MustCompile(`(?i)\bchown\s+(-[a-z]+\s+)*root\b`),
	},
	{
		id:          "chmod_world_writable",
		level:       LevelMedium,
		description: "World-writable permission change (chmod 777)",
		weight:      weightMedium,
		re:          regexp.MustCompile(`(?i)\bchmod\s+(-[a-z]+\s+)*0?777\b`),
	},

	// ── Reconnaissance ───────────────────────────────────────────────────────
	{
		id:          "recon_whoami",
		level:       LevelLow,
		description: "User identity probe",
		weight:      weightLow,
		re:          regexp.MustCompile(`(?i)\bwhoami\b`),
	},
	{
		id:          "recon_env_dump",
		level:       LevelLow,
		description: "Environment variable dump",
		weight:      weightLow,
		re:          regexp.MustCompile(`(?i)\bprintenv\b|/proc/self/environ|(^|[;&|]\s*)env\s*$`),
	},
	{
		id:          "recon_system_info",
		level:       LevelLow,
		description: "System information probe",
		weight:      weightLow,
		re:          regexp.MustCompile(`(?i)\buname\s+-a\b`),
	},
}
