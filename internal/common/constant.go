// Package common contains shared constants and sentinel errors used across
// AfterLiving components.
package common

// AccessGrantPurpose is the purpose claim value stamped into every recipient
// access token. Tokens carrying any other purpose are rejected outright.
const AccessGrantPurpose = "recipient_access"
