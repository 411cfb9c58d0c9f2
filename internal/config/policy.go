package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ExpensePolicy defines the business-specific categorization rules: the
// allowed category set, the account code each category files under, and the
// company description fed to the categorization model.
type ExpensePolicy struct {
	BusinessContext    string            `yaml:"business_context"`
	DefaultAccountCode string            `yaml:"default_account_code"`
	Categories         []ExpenseCategory `yaml:"categories"`
}

type ExpenseCategory struct {
	Name        string `yaml:"name"`
	AccountCode string `yaml:"account_code"`
}

func (p ExpensePolicy) CategoryNames() []string {
	names := make([]string, 0, len(p.Categories))
	for _, c := range p.Categories {
		names = append(names, c.Name)
	}
	return names
}

func (p ExpensePolicy) AccountCodes() map[string]string {
	codes := make(map[string]string, len(p.Categories))
	for _, c := range p.Categories {
		if c.AccountCode != "" {
			codes[c.Name] = c.AccountCode
		}
	}
	return codes
}

// LoadExpensePolicy reads the policy file if path is set, falling back to the
// built-in default policy otherwise.
func LoadExpensePolicy(path string) (ExpensePolicy, error) {
	if path == "" {
		return DefaultExpensePolicy(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return ExpensePolicy{}, fmt.Errorf("read policy file: %w", err)
	}

	var policy ExpensePolicy
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return ExpensePolicy{}, fmt.Errorf("parse policy file: %w", err)
	}
	if len(policy.Categories) == 0 {
		return ExpensePolicy{}, fmt.Errorf("policy file %s defines no categories", path)
	}
	for i, c := range policy.Categories {
		if c.Name == "" {
			return ExpensePolicy{}, fmt.Errorf("policy file %s: category %d has no name", path, i)
		}
	}
	if policy.BusinessContext == "" {
		policy.BusinessContext = DefaultExpensePolicy().BusinessContext
	}
	return policy, nil
}

func DefaultExpensePolicy() ExpensePolicy {
	return ExpensePolicy{
		BusinessContext:    "A small software studio. Key expense areas include software subscriptions, cloud services and performance marketing.",
		DefaultAccountCode: "429",
		Categories: []ExpenseCategory{
			{Name: "Software & Subscriptions", AccountCode: "485"},
			{Name: "Office Supplies", AccountCode: "453"},
			{Name: "Travel", AccountCode: "493"},
			{Name: "Marketing & Advertising", AccountCode: "467"},
			{Name: "Meals & Entertainment", AccountCode: "420"},
			{Name: "Utilities", AccountCode: "445"},
			{Name: "Professional Services", AccountCode: "441"},
		},
	}
}
