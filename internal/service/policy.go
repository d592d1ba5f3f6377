package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Strob0t/opsloop/internal/domain"
	"github.com/Strob0t/opsloop/internal/domain/policy"
	"github.com/Strob0t/opsloop/internal/port/cache"
)

// PolicyService classifies commands against policy profiles and provides
// access to built-in presets and loaded custom profiles.
type PolicyService struct {
	defaultProfile string
	profiles       map[string]policy.Profile
	classifiers    map[string]*policy.Classifier
	cache          cache.VerdictCache
}

// NewPolicyService creates a PolicyService with the built-in presets and
// optional custom profiles. Custom profiles may not reuse a preset name.
// The default profile must be one of them. vc may be nil.
func NewPolicyService(defaultProfile string, custom []policy.Profile, vc cache.VerdictCache) (*PolicyService, error) {
	s := &PolicyService{
		defaultProfile: defaultProfile,
		profiles:       make(map[string]policy.Profile),
		classifiers:    make(map[string]*policy.Classifier),
		cache:          vc,
	}

	for _, name := range policy.PresetNames() {
		p, _ := policy.PresetByName(name)
		if err := s.register(p); err != nil {
			return nil, err
		}
	}
	for i := range custom {
		if _, dup := s.profiles[custom[i].Name]; dup {
			return nil, fmt.Errorf("%w: policy profile %q is defined twice", domain.ErrValidation, custom[i].Name)
		}
		if err := s.register(custom[i]); err != nil {
			return nil, err
		}
	}

	if _, ok := s.profiles[defaultProfile]; !ok {
		return nil, fmt.Errorf("%w: unknown default policy profile %q", domain.ErrValidation, defaultProfile)
	}
	return s, nil
}

func (s *PolicyService) register(p policy.Profile) error {
	c, err := policy.NewClassifier(p)
	if err != nil {
		return fmt.Errorf("policy profile %q: %w", p.Name, err)
	}
	s.profiles[p.Name] = p
	s.classifiers[p.Name] = c
	return nil
}

// Classifier returns the compiled classifier for a profile. An empty name
// selects the default profile.
func (s *PolicyService) Classifier(name string) (*policy.Classifier, error) {
	if name == "" {
		name = s.defaultProfile
	}
	c, ok := s.classifiers[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown policy profile %q", domain.ErrNotFound, name)
	}
	return c, nil
}

// Classify returns the verdict for command under the named profile.
// Verdicts are memoized when a cache is configured.
func (s *PolicyService) Classify(ctx context.Context, profileName, command string) (policy.Verdict, error) {
	c, err := s.Classifier(profileName)
	if err != nil {
		return policy.Verdict{}, err
	}
	return s.classify(ctx, c, command), nil
}

func (s *PolicyService) classify(ctx context.Context, c *policy.Classifier, command string) policy.Verdict {
	if s.cache != nil {
		if v, ok := s.cache.Get(c.Profile(), command); ok {
			return v
		}
	}
	v := c.Classify(command)
	if s.cache != nil {
		s.cache.Set(c.Profile(), command, v)
	}
	slog.DebugContext(ctx, "command classified",
		"profile", c.Profile(),
		"decision", v.Decision,
		"rule", v.Rule,
	)
	return v
}

// GetProfile returns a policy profile by name.
func (s *PolicyService) GetProfile(name string) (policy.Profile, bool) {
	p, ok := s.profiles[name]
	return p, ok
}

// ListProfiles returns all available profile names, sorted alphabetically.
func (s *PolicyService) ListProfiles() []string {
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultProfile returns the name of the default policy profile.
func (s *PolicyService) DefaultProfile() string {
	return s.defaultProfile
}
