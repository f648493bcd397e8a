package wallet

import (
	"context"

	"encoin-rewards/pkg/config"
	"encoin-rewards/pkg/repository"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("wallet",
	fx.Provide(
		ProvideResolver,
		NewService,
	),
)

func ProvideResolver(cfg *config.Config) *Resolver {
	return NewResolver(cfg.Award.AddressNamespace)
}

type Service struct {
	resolver *Resolver
	wallets  repository.Repository[Wallet]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Resolver *Resolver
}

func NewService(p ServiceParams) *Service {
	return &Service{
		resolver: p.Resolver,
		wallets:  repository.ProvideStore[Wallet](p.DB),
	}
}

func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// Ensure resolves the address of uid and records the wallet row if it does
// not exist yet. tx may be nil to run outside a transaction.
func (s *Service) Ensure(ctx context.Context, tx *gorm.DB, uid string) (string, error) {
	address, err := s.resolver.Resolve(uid)
	if err != nil {
		return "", err
	}

	if _, err := s.wallets.WithTrx(tx).CreateIfAbsent(ctx, &Wallet{UID: uid, Address: address}); err != nil {
		return "", err
	}

	return address, nil
}

func (s *Service) Get(ctx context.Context, uid string) (*Wallet, error) {
	return s.wallets.FindOne(ctx, &Wallet{UID: uid})
}
