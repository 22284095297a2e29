// Package audit derives the audit trail for a namespace. There is no
// stored log: the trail is a pure projection of the metadata document, so
// it lives and dies with the document. Deleting a secret deletes its
// history.
package audit

import (
	"sort"

	"github.com/oleksiyp/kubernetes-native-secrets/pkg/models"
)

// decisionUser is recorded as the actor on approve/deny events. The
// document does not store who decided, only the resulting status.
const decisionUser = "system"

// Project returns the audit trail implied by the document, most recent
// first. Each stored field maps to one event: createdAt to create,
// updatedAt to update (when it differs from createdAt), every grant to
// share, every request to request, and every resolved request to an
// approve or deny event reusing the request timestamp.
func Project(meta *models.NamespaceMetadata) []models.AuditEvent {
	var events []models.AuditEvent

	for key, secret := range meta.Secrets {
		events = append(events, models.AuditEvent{
			Timestamp: secret.CreatedAt,
			Action:    models.ActionCreate,
			User:      secret.Owner,
			Namespace: meta.Namespace,
			Key:       key,
			ValueHash: secret.ValueHash,
		})

		if !secret.UpdatedAt.Equal(secret.CreatedAt) {
			events = append(events, models.AuditEvent{
				Timestamp: secret.UpdatedAt,
				Action:    models.ActionUpdate,
				User:      secret.Owner,
				Namespace: meta.Namespace,
				Key:       key,
				ValueHash: secret.ValueHash,
			})
		}

		for _, grant := range secret.SharedWith {
			events = append(events, models.AuditEvent{
				Timestamp:  grant.SharedAt,
				Action:     models.ActionShare,
				User:       grant.SharedBy,
				Namespace:  meta.Namespace,
				Key:        grant.Key,
				ValueHash:  grant.ValueHash,
				TargetUser: grant.SharedTo,
			})
		}

		for _, request := range secret.AccessRequests {
			events = append(events, models.AuditEvent{
				Timestamp: request.RequestedAt,
				Action:    models.ActionRequest,
				User:      request.RequestedBy,
				Namespace: meta.Namespace,
				Key:       request.Key,
			})

			switch request.Status {
			case models.StatusApproved:
				events = append(events, models.AuditEvent{
					Timestamp:  request.RequestedAt,
					Action:     models.ActionApprove,
					User:       decisionUser,
					Namespace:  meta.Namespace,
					Key:        request.Key,
					TargetUser: request.RequestedBy,
				})
			case models.StatusDenied:
				events = append(events, models.AuditEvent{
					Timestamp:  request.RequestedAt,
					Action:     models.ActionDeny,
					User:       decisionUser,
					Namespace:  meta.Namespace,
					Key:        request.Key,
					TargetUser: request.RequestedBy,
				})
			}
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	return events
}
