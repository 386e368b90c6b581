package domain

import "github.com/featuremesh/featurestore-go/api"

type FeatureEntity struct {
	*api.Entity
}

func NewFeatureEntity(entity *api.Entity) *FeatureEntity {
	return &FeatureEntity{Entity: entity}
}
