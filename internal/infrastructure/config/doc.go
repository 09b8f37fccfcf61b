// Package config handles loading and validating the Gray Logic node's
// bootstrap configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// The bootstrap configuration describes the node itself (storage path,
// radio driver, listening ports, optional sinks). Operator-editable values
// such as link credentials and the broker endpoint are not here; they live
// in the persisted device record managed by the settings package.
//
// Security Considerations:
//   - The provisioning access point password and MQTT credentials should be
//     set via environment variables (GRAYNODE_AP_PASSWORD, GRAYNODE_MQTT_PASSWORD)
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Link.Interface)
package config
