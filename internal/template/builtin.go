package template

import "github.com/aristath/taskflow/internal/scheduler"

// Builtins returns fresh copies of the templates shipped with the binary.
func Builtins() []*Template {
	return []*Template{
		fullDevelopment(),
		quickImplementation(),
		codeReview(),
		documentation(),
		securityAudit(),
	}
}

func config(mode scheduler.Mode, correction bool, maxIterations int) scheduler.Config {
	cfg := scheduler.DefaultConfig()
	cfg.Mode = mode
	cfg.EnableCorrectionLoop = correction
	if maxIterations > 0 {
		cfg.MaxIterations = maxIterations
	}
	return cfg
}

func fullDevelopment() *Template {
	return &Template{
		Name:  "full-development",
		Title: "Full Development Workflow",
		Description: "Complete development workflow for {project_name}. " +
			"Includes planning, implementation, QA, security review, and documentation.",
		Category: CategoryDevelopment,
		Config:   config(scheduler.ModeSequential, true, 0),
		Required: []string{"project_name", "project_description"},
		Optional: map[string]string{
			"tech_stack":   "Go",
			"requirements": "None specified",
		},
		Tags:    []string{"full", "development", "complete", "all-agents"},
		Version: "1.0.0",
		Tasks: []TaskTemplate{
			{
				Key:  "plan",
				Name: "Project Planning: {project_name}",
				Description: "Analyze the following project and create a detailed implementation plan:\n\n" +
					"Project: {project_name}\n" +
					"Description: {project_description}\n" +
					"Tech Stack: {tech_stack}\n" +
					"Requirements: {requirements}\n\n" +
					"Create a task breakdown with priorities and dependencies.",
				ExpectedOutput: "A detailed project plan for {project_name} with task breakdown, timeline, and resource allocation.",
				Role:           scheduler.RolePlanning,
				Priority:       "high",
			},
			{
				Key:  "implement",
				Name: "Implementation: {project_name}",
				Description: "Implement the solution for {project_name} based on the project plan.\n\n" +
					"Requirements:\n{project_description}\n\n" +
					"Use {tech_stack} and follow its conventions.",
				ExpectedOutput: "Working implementation of {project_name} with clean, documented code.",
				Role:           scheduler.RoleImplementation,
				Priority:       "high",
				DependsOn:      []string{"plan"},
			},
			{
				Key:  "verify",
				Name: "QA Review: {project_name}",
				Description: "Review the implementation of {project_name} for quality.\n" +
					"Check for bugs, edge cases, and code quality issues.\n" +
					"Ensure the implementation meets requirements.",
				ExpectedOutput: "QA report with test results, found issues, and recommendations.",
				Role:           scheduler.RoleVerification,
				Priority:       "high",
				DependsOn:      []string{"implement"},
			},
			{
				Key:  "security",
				Name: "Security Review: {project_name}",
				Description: "Perform security review of {project_name}.\n" +
					"Check for common vulnerabilities and compliance requirements.",
				ExpectedOutput: "Security assessment report with vulnerabilities and remediation steps.",
				Role:           scheduler.RoleSecurityReview,
				Priority:       "high",
				DependsOn:      []string{"implement"},
			},
			{
				Key:  "document",
				Name: "Documentation: {project_name}",
				Description: "Create comprehensive documentation for {project_name}.\n" +
					"Include setup instructions, API documentation, and usage examples.",
				ExpectedOutput: "Complete documentation including README, API docs, and examples.",
				Role:           scheduler.RoleDocumentation,
				Priority:       "medium",
				DependsOn:      []string{"implement", "verify"},
			},
		},
	}
}

func quickImplementation() *Template {
	return &Template{
		Name:        "quick-implementation",
		Title:       "Quick Implementation",
		Description: "Rapid development workflow for {feature_name}. Focuses on implementation and basic testing.",
		Category:    CategoryDevelopment,
		Config:      config(scheduler.ModeSequential, false, 3),
		Required:    []string{"feature_name", "feature_description"},
		Optional:    map[string]string{"tech_stack": "Go"},
		Tags:        []string{"quick", "prototype", "fast", "development"},
		Version:     "1.0.0",
		Tasks: []TaskTemplate{
			{
				Key:  "implement",
				Name: "Implement: {feature_name}",
				Description: "Quickly implement {feature_name}.\n\n" +
					"Description: {feature_description}\n" +
					"Tech Stack: {tech_stack}\n\n" +
					"Focus on functionality over perfection.",
				ExpectedOutput: "Working implementation of {feature_name}.",
				Role:           scheduler.RoleImplementation,
				Priority:       "high",
			},
			{
				Key:            "review",
				Name:           "Basic Review: {feature_name}",
				Description:    "Perform basic testing of {feature_name}.",
				ExpectedOutput: "Basic test results and any critical issues.",
				Role:           scheduler.RoleVerification,
				Priority:       "medium",
				DependsOn:      []string{"implement"},
			},
		},
	}
}

func codeReview() *Template {
	return &Template{
		Name:        "code-review",
		Title:       "Code Review Workflow",
		Description: "Review {code_subject} for quality, security, and documentation.",
		Category:    CategoryReview,
		Config:      config(scheduler.ModeParallelEligible, false, 0),
		Required:    []string{"code_subject", "code_location"},
		Optional:    map[string]string{"focus_areas": "all"},
		Tags:        []string{"review", "code-review", "quality", "security"},
		Version:     "1.0.0",
		Tasks: []TaskTemplate{
			{
				Key:  "quality",
				Name: "Quality Review: {code_subject}",
				Description: "Review {code_subject} at {code_location} for code quality.\n" +
					"Focus areas: {focus_areas}\n" +
					"Check for bugs, code style, and maintainability.",
				ExpectedOutput: "Quality review report with findings and recommendations.",
				Role:           scheduler.RoleVerification,
				Priority:       "high",
			},
			{
				Key:  "security",
				Name: "Security Review: {code_subject}",
				Description: "Security audit of {code_subject} at {code_location}.\n" +
					"Check for vulnerabilities and insecure patterns.",
				ExpectedOutput: "Security review report with vulnerabilities and remediation.",
				Role:           scheduler.RoleSecurityReview,
				Priority:       "high",
			},
		},
	}
}

func documentation() *Template {
	return &Template{
		Name:        "documentation",
		Title:       "Documentation Workflow",
		Description: "Create documentation for {subject}.",
		Category:    CategoryDocumentation,
		Config:      config(scheduler.ModeSequential, true, 0),
		Required:    []string{"subject", "subject_description"},
		Optional: map[string]string{
			"doc_type": "README and API documentation",
			"audience": "developers",
		},
		Tags:    []string{"documentation", "docs", "readme", "api-docs"},
		Version: "1.0.0",
		Tasks: []TaskTemplate{
			{
				Key:  "plan",
				Name: "Documentation Plan: {subject}",
				Description: "Plan documentation structure for {subject}.\n" +
					"Subject: {subject_description}\n" +
					"Documentation type: {doc_type}\n" +
					"Target audience: {audience}",
				ExpectedOutput: "Documentation outline with sections and content plan.",
				Role:           scheduler.RolePlanning,
				Priority:       "high",
			},
			{
				Key:  "write",
				Name: "Write Documentation: {subject}",
				Description: "Create {doc_type} for {subject}.\n" +
					"Description: {subject_description}\n" +
					"Audience: {audience}",
				ExpectedOutput: "Complete documentation with examples.",
				Role:           scheduler.RoleDocumentation,
				Priority:       "high",
				DependsOn:      []string{"plan"},
			},
		},
	}
}

func securityAudit() *Template {
	return &Template{
		Name:        "security-audit",
		Title:       "Security Audit Workflow",
		Description: "Comprehensive security audit for {system_name}.",
		Category:    CategorySecurity,
		Config:      config(scheduler.ModeSequential, true, 5),
		Required:    []string{"system_name", "system_description"},
		Optional: map[string]string{
			"compliance_standards": "OWASP Top 10",
			"scope":                "full system",
		},
		Tags:    []string{"security", "audit", "compliance", "vulnerability"},
		Version: "1.0.0",
		Tasks: []TaskTemplate{
			{
				Key:  "plan",
				Name: "Security Audit Plan: {system_name}",
				Description: "Plan security audit for {system_name}.\n" +
					"Description: {system_description}\n" +
					"Scope: {scope}\n" +
					"Compliance: {compliance_standards}",
				ExpectedOutput: "Security audit plan with methodology and checklist.",
				Role:           scheduler.RolePlanning,
				Priority:       "critical",
			},
			{
				Key:  "audit",
				Name: "Security Audit: {system_name}",
				Description: "Perform security audit of {system_name}.\n" +
					"Follow {compliance_standards} guidelines.\n" +
					"Scope: {scope}",
				ExpectedOutput: "Security audit report with vulnerabilities, risk ratings, and remediation.",
				Role:           scheduler.RoleSecurityReview,
				Priority:       "critical",
				DependsOn:      []string{"plan"},
			},
			{
				Key:            "remediation",
				Name:           "Remediation Guide: {system_name}",
				Description:    "Create remediation documentation for security findings in {system_name}.",
				ExpectedOutput: "Remediation guide with step-by-step fix instructions.",
				Role:           scheduler.RoleDocumentation,
				Priority:       "high",
				DependsOn:      []string{"audit"},
			},
		},
	}
}
