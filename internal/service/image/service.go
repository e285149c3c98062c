package image

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/persona-lab/backend/internal/service/provider"
	"github.com/zhouzirui/persona-lab/backend/pkg/logger"
)

// ErrNoImage 所有图像服务商都未能产出图片。
var ErrNoImage = errors.New("no image could be generated")

// Result carries the produced image and the provider that made it.
type Result struct {
	Image    []byte `json:"-"`
	Format   string `json:"format"`
	Provider string `json:"provider"`
	Prompt   string `json:"prompt"`
}

// Service 依次尝试已配置的图像服务商，返回第一张成功生成的图片。
type Service struct {
	generators map[string]Generator
	order      []string
}

// NewService builds the fallback chain. Order entries without a matching generator are ignored.
func NewService(order []string, generators ...Generator) *Service {
	s := &Service{generators: make(map[string]Generator, len(generators))}
	for _, g := range generators {
		s.generators[g.Name()] = g
	}
	for _, name := range order {
		name = strings.ToLower(strings.TrimSpace(name))
		if _, ok := s.generators[name]; ok {
			s.order = append(s.order, name)
		}
	}
	if len(s.order) == 0 {
		for _, g := range generators {
			s.order = append(s.order, g.Name())
		}
	}
	return s
}

// Order returns the provider names in the order they are tried.
func (s *Service) Order() []string {
	return append([]string(nil), s.order...)
}

// Generate walks the chain. keys holds per-request API key overrides keyed by provider name.
func (s *Service) Generate(ctx context.Context, prompt string, keys map[string]string) (*Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("image prompt is empty")
	}

	var errs []error
	for _, name := range s.order {
		gen := s.generators[name]
		key := strings.TrimSpace(keys[name])

		if key == "" && !gen.Configured() {
			errs = append(errs, fmt.Errorf("%s: %w", name, provider.ErrMissingCredential))
			continue
		}

		if v, ok := gen.(Verifier); ok {
			if err := v.Verify(ctx, key); err != nil {
				logger.Warn("[image] key verification failed", zap.String("provider", name), zap.Error(err))
				errs = append(errs, fmt.Errorf("%s verify: %w", name, err))
				continue
			}
		}

		img, err := gen.Generate(ctx, prompt, key)
		if err != nil {
			logger.Warn("[image] generation failed", zap.String("provider", name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}

		logger.Info("[image] generated", zap.String("provider", name), zap.Int("bytes", len(img)))
		return &Result{Image: img, Format: "png", Provider: name, Prompt: prompt}, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrNoImage, errors.Join(errs...))
}
