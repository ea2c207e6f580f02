package gate

// DefaultGates returns the built-in gate set created at process start.
// Records loaded from durable storage overlay these by id.
func DefaultGates() []*Gate {
	return []*Gate{
		{
			ID:            "shell_execute",
			Name:          "Shell Execution",
			Description:   "Arbitrary shell command execution",
			RiskLevel:     RiskHigh,
			Enabled:       true,
			DefaultAction: ActionAsk,
			Patterns:      []string{"shell", "exec", "command", "terminal"},
		},
		{
			ID:            "file_delete",
			Name:          "File Deletion",
			Description:   "Deleting files or directories",
			RiskLevel:     RiskMedium,
			Enabled:       true,
			DefaultAction: ActionAsk,
			Patterns:      []string{"delete", "remove", "unlink"},
		},
		{
			ID:            "file_write",
			Name:          "File Write",
			Description:   "Writing or appending to files",
			RiskLevel:     RiskLow,
			Enabled:       true,
			DefaultAction: ActionApprove,
			Patterns:      []string{"write", "save", "append"},
		},
		{
			ID:            "wallet_transfer",
			Name:          "Wallet Transfer",
			Description:   "Moving funds out of the agent wallet",
			RiskLevel:     RiskCritical,
			Enabled:       true,
			DefaultAction: ActionAsk,
			Patterns:      []string{"wallet", "transfer", "payment", "send_funds"},
		},
		{
			ID:            "credentials_access",
			Name:          "Credential Access",
			Description:   "Reading stored secrets or key material",
			RiskLevel:     RiskCritical,
			Enabled:       true,
			DefaultAction: ActionAsk,
			Patterns:      []string{"credential", "secret", "private_key", "keychain"},
		},
		{
			ID:            "email_send",
			Name:          "Outbound Email",
			Description:   "Sending email on the user's behalf",
			RiskLevel:     RiskMedium,
			Enabled:       true,
			DefaultAction: ActionAsk,
			Patterns:      []string{"email", "smtp", "send_message"},
		},
		{
			ID:            "external_api",
			Name:          "External API Call",
			Description:   "Outbound HTTP requests to third-party services",
			RiskLevel:     RiskLow,
			Enabled:       true,
			DefaultAction: ActionApprove,
			Patterns:      []string{"http", "fetch", "api", "webhook", "external"},
		},
		{
			ID:            "system_config",
			Name:          "System Configuration",
			Description:   "Changing runtime or system configuration",
			RiskLevel:     RiskHigh,
			Enabled:       true,
			DefaultAction: ActionAsk,
			Patterns:      []string{"config", "settings", "registry", "system"},
		},
	}
}

// threatOverrideGate is the synthetic maximum-severity gate applied when the
// scanner detects a high or critical threat, regardless of configured policy.
func threatOverrideGate() *Gate {
	return &Gate{
		ID:            "threat_override",
		Name:          "Threat Override",
		Description:   "Synthetic gate applied when a high-severity threat signature is detected in the operation payload",
		RiskLevel:     RiskCritical,
		Enabled:       true,
		DefaultAction: ActionDeny,
	}
}
