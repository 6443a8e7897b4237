package config

// CleanupConfig configures the navigation cleanup pass.
type CleanupConfig struct {
	// AuthDomains are hostname suffixes treated as authentication providers.
	// Navigations to these hosts are capture noise from login redirects.
	AuthDomains []string `yaml:"auth_domains"`

	// RoutingParam names the query parameter that identifies the current
	// in-app view, used to judge whether two URLs target the same screen.
	RoutingParam string `yaml:"routing_param"`
}

// DefaultCleanupConfig returns cleanup defaults covering common identity providers.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		AuthDomains: []string{
			"accounts.google.com",
			"login.microsoftonline.com",
			"login.live.com",
			"okta.com",
			"auth0.com",
			"login.salesforce.com",
			"id.atlassian.com",
		},
		RoutingParam: "view",
	}
}

// DetectorConfig configures the parameter candidate detector.
type DetectorConfig struct {
	// MaxLabelDepth bounds the expression-chain walk when deriving a label.
	MaxLabelDepth int `yaml:"max_label_depth"`

	// MaxNameLength truncates suggested parameter names.
	MaxNameLength int `yaml:"max_name_length"`
}

// DefaultDetectorConfig returns detector defaults.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MaxLabelDepth: 10,
		MaxNameLength: 50,
	}
}

// EvaluatorConfig configures the live locator quality evaluator.
type EvaluatorConfig struct {
	// QueryTimeout bounds a single live-DOM match-count query. Kept short
	// because evaluation runs interactively on hover.
	QueryTimeout string `yaml:"query_timeout"`
}

// DefaultEvaluatorConfig returns evaluator defaults.
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		QueryTimeout: "3s",
	}
}

// GeneratorConfig configures spec generation.
type GeneratorConfig struct {
	// SpecExtension is the bare extension of generated spec sources.
	SpecExtension string `yaml:"spec_extension"`
}

// DefaultGeneratorConfig returns generator defaults.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		SpecExtension: "ts",
	}
}
