package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mailroute/core/internal/database/models"
	"gorm.io/gorm"
)

var (
	// ErrResolveFailed indicates the routing configuration could not be read
	ErrResolveFailed = errors.New("endpoint resolution failed")
)

// RoutingOutcome identifies how a recipient address resolved
type RoutingOutcome string

const (
	// OutcomeResolved means a configured endpoint should handle the message
	OutcomeResolved RoutingOutcome = "resolved"
	// OutcomeUnrouted means nothing claims the address; the message is
	// stored but not dispatched
	OutcomeUnrouted RoutingOutcome = "unrouted"
	// OutcomeDeferToLegacy means only a legacy webhook reference claims
	// the address; dispatch is left to the legacy pipeline
	OutcomeDeferToLegacy RoutingOutcome = "defer_to_legacy"
)

// RoutingDecision is the result of resolving a recipient address.
// Endpoint and Config are set only when Outcome is OutcomeResolved;
// LegacyURL only when Outcome is OutcomeDeferToLegacy.
type RoutingDecision struct {
	Outcome   RoutingOutcome
	Endpoint  *models.Endpoint
	Config    *models.EndpointConfig
	LegacyURL string
	// MatchedBy records which rule produced the decision, for audit logs
	MatchedBy string
}

// ResolverService resolves recipient addresses to delivery endpoints
type ResolverService struct {
	db         *gorm.DB
	logService *LogService
}

// NewResolverService creates a new ResolverService instance
func NewResolverService(db *gorm.DB, logService *LogService) *ResolverService {
	return &ResolverService{
		db:         db,
		logService: logService,
	}
}

// Resolve walks the routing chain for one recipient address. Precedence:
// address-bound endpoint, address-bound legacy webhook, domain catch-all
// endpoint, domain legacy catch-all. Inactive routes, endpoints and
// domains are treated as absent. Misconfigured endpoint rows are skipped
// with a warning so a broken binding degrades to the next rule instead
// of failing the message.
func (s *ResolverService) Resolve(recipient string, userID uint) (*RoutingDecision, error) {
	address := strings.ToLower(strings.TrimSpace(recipient))
	if address == "" {
		return nil, fmt.Errorf("%w: empty recipient", ErrResolveFailed)
	}

	// Address-specific route first
	var route models.AddressRoute
	err := s.db.Where("address = ? AND user_id = ? AND active = ?", address, userID, true).
		First(&route).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrResolveFailed, err)
	}
	if err == nil {
		if decision := s.decideFromRoute(&route, userID); decision != nil {
			return decision, nil
		}
	}

	// Domain catch-all
	domainName := domainOf(address)
	if domainName != "" {
		var domain models.Domain
		err = s.db.Where("name = ? AND user_id = ? AND active = ?", domainName, userID, true).
			First(&domain).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrResolveFailed, err)
		}
		if err == nil && domain.CatchAllEnabled {
			if decision := s.decideFromDomain(&domain, userID); decision != nil {
				return decision, nil
			}
		}
	}

	return &RoutingDecision{Outcome: OutcomeUnrouted}, nil
}

// decideFromRoute turns an address route into a decision, or nil if the
// route cannot produce one and the chain should continue
func (s *ResolverService) decideFromRoute(route *models.AddressRoute, userID uint) *RoutingDecision {
	if route.EndpointID != nil {
		endpoint, config := s.loadEndpoint(*route.EndpointID, userID)
		if endpoint != nil {
			return &RoutingDecision{
				Outcome:   OutcomeResolved,
				Endpoint:  endpoint,
				Config:    config,
				MatchedBy: "address_route",
			}
		}
	}
	if route.LegacyWebhookURL != "" {
		return &RoutingDecision{
			Outcome:   OutcomeDeferToLegacy,
			LegacyURL: route.LegacyWebhookURL,
			MatchedBy: "address_route_legacy",
		}
	}
	return nil
}

// decideFromDomain turns a catch-all-enabled domain into a decision, or
// nil if it cannot produce one
func (s *ResolverService) decideFromDomain(domain *models.Domain, userID uint) *RoutingDecision {
	if domain.CatchAllEndpoint != nil {
		endpoint, config := s.loadEndpoint(*domain.CatchAllEndpoint, userID)
		if endpoint != nil {
			return &RoutingDecision{
				Outcome:   OutcomeResolved,
				Endpoint:  endpoint,
				Config:    config,
				MatchedBy: "domain_catch_all",
			}
		}
	}
	if domain.LegacyCatchAllURL != "" {
		return &RoutingDecision{
			Outcome:   OutcomeDeferToLegacy,
			LegacyURL: domain.LegacyCatchAllURL,
			MatchedBy: "domain_catch_all_legacy",
		}
	}
	return nil
}

// loadEndpoint fetches an active endpoint and validates its configuration.
// Returns nils when the endpoint is missing, inactive or misconfigured.
func (s *ResolverService) loadEndpoint(endpointID, userID uint) (*models.Endpoint, *models.EndpointConfig) {
	var endpoint models.Endpoint
	err := s.db.Where("id = ? AND user_id = ? AND active = ?", endpointID, userID, true).
		First(&endpoint).Error
	if err != nil {
		return nil, nil
	}

	config, err := endpoint.Config()
	if err != nil {
		s.logService.LogWarn(userID, models.LogModuleRoute, "invalid_endpoint_config",
			fmt.Sprintf("Endpoint %d has invalid configuration, skipping", endpointID),
			map[string]interface{}{"endpoint_id": endpointID, "type": endpoint.Type})
		return nil, nil
	}
	return &endpoint, config
}

// ResolveOwner finds the user that owns the recipient's domain
func (s *ResolverService) ResolveOwner(recipient string) (uint, error) {
	domainName := domainOf(strings.ToLower(strings.TrimSpace(recipient)))
	if domainName == "" {
		return 0, fmt.Errorf("%w: recipient has no domain part", ErrResolveFailed)
	}

	var domain models.Domain
	err := s.db.Where("name = ? AND active = ?", domainName, true).First(&domain).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: no active domain %s", ErrResolveFailed, domainName)
		}
		return 0, fmt.Errorf("%w: %v", ErrResolveFailed, err)
	}
	return domain.UserID, nil
}

// domainOf extracts the domain part of an email address
func domainOf(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return address[at+1:]
}
