// Package corpus defines the domain model shared by the reconciliation phases:
// identifier sets, reports, document records, ledger entries, the collaborator
// contracts the phases depend on, the error-kind taxonomy and the retry policy.
package corpus
