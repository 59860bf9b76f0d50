package model

import "strings"

// DefaultPlanType is the plan type given to freshly proposed APIs.
const DefaultPlanType = "FreeWithoutQuotas"

// DefaultPlanSkeleton returns a single free plan exposing one service of the
// given source instance.
func DefaultPlanSkeleton(instanceID, serviceID string) UsagePlan {
	return UsagePlan{
		Type: DefaultPlanType,
		Target: &GatewayTarget{
			InstanceID: instanceID,
			AuthorizedEntities: AuthorizedEntities{
				Groups:   []string{},
				Services: []string{serviceID},
			},
			APIKeyCustomization: APIKeyCustomization{
				Metadata: map[string]string{},
				Tags:     []string{},
			},
		},
	}
}

// DefaultProposal pre-fills a staged API for a service nobody decided yet.
// The target team is left empty for the operator to choose.
func DefaultProposal(instanceID string, svc SourceService) StagedAPI {
	return StagedAPI{
		SourceServiceID: svc.ID,
		GroupID:         svc.GroupID,
		Name:            svc.Name,
		HumanReadableID: Slug(svc.Name),
		PlanSkeleton:    DefaultPlanSkeleton(instanceID, svc.ID),
	}
}

// NewSubscriptionProposal pre-fills a staged subscription from an API key.
func NewSubscriptionProposal(key SourceAPIKey, teamID, apiID, planID string) StagedSubscription {
	return StagedSubscription{
		SourceAPIKeyID:     key.ClientID,
		TargetTeamID:       teamID,
		TargetAPIID:        apiID,
		TargetPlanID:       planID,
		ClientID:           key.ClientID,
		ClientName:         key.ClientName,
		ClientSecret:       key.ClientSecret,
		AuthorizedEntities: key.AuthorizedEntities,
	}
}

// AuthorizedEntitiesFromRefs splits "group_<id>" and "service_<id>" references.
// Unknown prefixes are ignored.
func AuthorizedEntitiesFromRefs(refs []string) AuthorizedEntities {
	out := AuthorizedEntities{Groups: []string{}, Services: []string{}}
	for _, ref := range refs {
		if id, ok := strings.CutPrefix(ref, string(EntityGroup)+"_"); ok {
			out.Groups = append(out.Groups, id)
		} else if id, ok := strings.CutPrefix(ref, string(EntityService)+"_"); ok {
			out.Services = append(out.Services, id)
		}
	}
	return out
}

// KeyPlanSkeleton returns a free plan named customName that grants what an
// API key is already authorized on.
func KeyPlanSkeleton(instanceID, customName string, key SourceAPIKey) UsagePlan {
	plan := DefaultPlanSkeleton(instanceID, "")
	plan.CustomName = customName
	plan.Target.AuthorizedEntities = AuthorizedEntitiesFromRefs(key.AuthorizedEntities)
	return plan
}
