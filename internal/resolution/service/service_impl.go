package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	extractiondomain "github.com/smallbiznis/docpipe/internal/extraction/domain"
	partydomain "github.com/smallbiznis/docpipe/internal/party/domain"
	"github.com/smallbiznis/docpipe/internal/resolution/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Repo   partydomain.Repository
	Config Config `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  partydomain.Repository
	cfg   Config
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("resolution.service"),
		genID: p.GenID,
		repo:  p.Repo,
		cfg:   p.Config.withDefaults(),
	}
}

// Resolve walks every invoice's supplier and customer reference, matching or
// creating parties. The document linkage takes the first resolved id per
// field and never overwrites it; later conflicting pairs stay visible in the
// operations log only.
func (s *Service) Resolve(ctx context.Context, invoices []extractiondomain.ExtractedInvoice, documentID snowflake.ID, opts domain.Options) (domain.Resolution, error) {
	res := domain.Resolution{
		Linkage: domain.Linkage{DocumentID: documentID},
	}

	for _, invoice := range invoices {
		if !invoice.Supplier.Empty() {
			op := s.resolveParty(ctx, partydomain.PartyTypeSupplier, invoice.Supplier, opts)
			res.Operations = append(res.Operations, op)
			if op.PartyID != nil && res.Linkage.SupplierID == nil {
				res.Linkage.SupplierID = op.PartyID
			}
		}
		if !invoice.Customer.Empty() {
			op := s.resolveParty(ctx, partydomain.PartyTypeCustomer, invoice.Customer, opts)
			res.Operations = append(res.Operations, op)
			if op.PartyID != nil && res.Linkage.CustomerID == nil {
				res.Linkage.CustomerID = op.PartyID
			}
		}
	}

	s.log.Info("document resolved",
		zap.String("document_id", documentID.String()),
		zap.Int("operations", len(res.Operations)),
		zap.Bool("supplier_linked", res.Linkage.SupplierID != nil),
		zap.Bool("customer_linked", res.Linkage.CustomerID != nil),
	)
	return res, nil
}

// resolveParty matches one reference: exact tax id first, fuzzy name second,
// idempotent creation last. Ambiguous fuzzy candidates are treated as no
// match; a wrong link is worse than an extra party.
func (s *Service) resolveParty(ctx context.Context, partyType partydomain.PartyType, ref extractiondomain.PartyRef, opts domain.Options) domain.MatchResult {
	op := domain.MatchResult{
		PartyType: partyType,
		Method:    domain.MatchMethodNone,
		Input:     ref.Name,
	}

	normTaxID := NormalizeTaxID(ref.TaxID)
	normName := NormalizeName(ref.Name)
	if normTaxID == "" && normName == "" {
		return op
	}

	if normTaxID != "" {
		party, err := s.withRetry(func() (*partydomain.Party, error) {
			return s.repo.FindByTaxID(ctx, s.db, partyType, normTaxID)
		})
		if err != nil {
			op.Error = err.Error()
			s.log.Warn("tax id lookup failed", zap.String("party_type", string(partyType)), zap.Error(err))
			return op
		}
		if party != nil {
			op.PartyID = &party.ID
			op.Method = domain.MatchMethodTaxIDExact
			op.Confidence = 1
			return op
		}
	}

	if normName != "" {
		match, candidates, err := s.matchByName(ctx, partyType, normName, normTaxID, opts.DetectDuplicates)
		if err != nil {
			op.Error = err.Error()
			s.log.Warn("name lookup failed", zap.String("party_type", string(partyType)), zap.Error(err))
			return op
		}
		op.DuplicateCandidates = candidates
		if match != nil {
			op.PartyID = &match.party.ID
			op.Method = domain.MatchMethodNameFuzzy
			op.Confidence = match.score
			return op
		}
	}

	if opts.SkipCreation {
		return op
	}

	name := ref.Name
	if name == "" {
		name = ref.TaxID
	}
	candidate := &partydomain.Party{
		ID:              s.genID.Generate(),
		Type:            partyType,
		Name:            name,
		NormalizedName:  normName,
		TaxID:           ref.TaxID,
		NormalizedTaxID: normTaxID,
		IdentityKey:     partydomain.IdentityKeyFor(normTaxID, normName),
		Address:         ref.Address,
		Status:          partydomain.PartyStatusActive,
		AutoCreated:     true,
	}

	canonical, created, err := s.upsertWithRetry(ctx, candidate)
	if err != nil {
		op.Error = err.Error()
		s.log.Warn("party creation failed",
			zap.String("party_type", string(partyType)),
			zap.String("identity_key", candidate.IdentityKey),
			zap.Error(err),
		)
		return op
	}

	op.PartyID = &canonical.ID
	op.Method = domain.MatchMethodAutoCreated
	op.Confidence = 0.9
	op.CreatedNew = created
	if created {
		s.log.Info("party auto-created",
			zap.String("party_type", string(partyType)),
			zap.String("party_id", canonical.ID.String()),
			zap.String("name", canonical.Name),
		)
	}
	return op
}

type nameMatch struct {
	party *partydomain.Party
	score float64
}

// matchByName scores recent active parties against the normalized name. A
// single clear winner above the threshold matches; a runner-up inside the
// ambiguity margin voids the match. A candidate carrying a different tax id
// than the reference is never matched by name, only surfaced as a duplicate.
func (s *Service) matchByName(ctx context.Context, partyType partydomain.PartyType, normName, normTaxID string, collectDuplicates bool) (*nameMatch, []string, error) {
	parties, err := s.repo.FindActive(ctx, s.db, partyType, s.cfg.CandidateLimit)
	if err != nil {
		return nil, nil, err
	}

	var best, second *nameMatch
	var candidates []string
	for _, party := range parties {
		score := Similarity(normName, party.NormalizedName)
		if normTaxID != "" && party.NormalizedTaxID != "" && party.NormalizedTaxID != normTaxID {
			if collectDuplicates && score >= s.cfg.DuplicateThreshold {
				candidates = append(candidates, party.Name)
			}
			continue
		}
		if collectDuplicates && score >= s.cfg.DuplicateThreshold {
			candidates = append(candidates, party.Name)
		}
		if score < s.cfg.SimilarityThreshold {
			continue
		}
		switch {
		case best == nil || score > best.score:
			second = best
			best = &nameMatch{party: party, score: score}
		case second == nil || score > second.score:
			second = &nameMatch{party: party, score: score}
		}
	}

	if best == nil {
		return nil, candidates, nil
	}
	if second != nil && best.score-second.score < s.cfg.AmbiguityMargin {
		s.log.Info("ambiguous name match skipped",
			zap.String("party_type", string(partyType)),
			zap.String("name", normName),
			zap.Float64("best", best.score),
			zap.Float64("second", second.score),
		)
		return nil, candidates, nil
	}
	return best, candidates, nil
}

// withRetry absorbs one transient store failure before surfacing the error.
func (s *Service) withRetry(fn func() (*partydomain.Party, error)) (*partydomain.Party, error) {
	party, err := fn()
	if err == nil {
		return party, nil
	}
	return fn()
}

func (s *Service) upsertWithRetry(ctx context.Context, candidate *partydomain.Party) (*partydomain.Party, bool, error) {
	canonical, created, err := s.repo.UpsertIdempotent(ctx, s.db, candidate)
	if err == nil {
		return canonical, created, nil
	}
	return s.repo.UpsertIdempotent(ctx, s.db, candidate)
}
