package validator

// Entity type keys match domain.EntityType values.
const (
	entityUser                  = "user"
	entityAgent                 = "agent"
	entityClientUser            = "client_user"
	entityProvisioningReference = "provisioning_reference"
)

// EntityMetadataDefinitions returns the metadata each entity type must carry
// when it is created or updated.
func EntityMetadataDefinitions() map[string]map[string]FieldDefinition {
	return map[string]map[string]FieldDefinition{
		entityUser: {
			"role": {Type: FieldTypeString},
		},
		entityAgent: {
			"clientId":      {Type: FieldTypeReference, Required: true, Description: "original id of the owning client"},
			"agentType":     {Type: FieldTypeString},
			"containerType": {Type: FieldTypeString},
			"name":          {Type: FieldTypeString},
			"description":   {Type: FieldTypeString},
		},
		entityClientUser: {
			"clientId": {Type: FieldTypeReference, Required: true},
			"userId":   {Type: FieldTypeReference, Required: true},
			"role":     {Type: FieldTypeString},
		},
		entityProvisioningReference: {
			"clientId":         {Type: FieldTypeReference, Required: true},
			"providerType":     {Type: FieldTypeReference, Required: true},
			"serverId":         {Type: FieldTypeIdentifier},
			"serverName":       {Type: FieldTypeString},
			"publicIp":         {Type: FieldTypeString},
			"privateIp":        {Type: FieldTypeString},
			"providerMetadata": {Type: FieldTypeJSON},
		},
	}
}

// NewEntityMetadataValidator returns a validator preloaded with
// EntityMetadataDefinitions.
func NewEntityMetadataValidator() *MetadataValidator {
	return NewMetadataValidator(EntityMetadataDefinitions())
}

var defaultEntityValidator = NewEntityMetadataValidator()

// ValidateMetadata validates metadata for entityType with the default entity
// definitions.
func ValidateMetadata(entityType string, metadata map[string]any) ValidationResult {
	return defaultEntityValidator.Validate(entityType, metadata)
}
