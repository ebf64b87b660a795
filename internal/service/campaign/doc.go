// Package campaign implements campaign lifecycle management.
//
// The service layer contains all business logic for creating campaigns,
// attaching recipients, dispatching, and recording engagement. It depends on
// repository interfaces defined in this package and should never import from
// api/ or tracking/.
//
// Repository implementations live in repository/postgres/ and
// repository/memory/.
package campaign
