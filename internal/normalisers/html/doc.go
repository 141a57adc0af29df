// Package html provides a Normaliser implementation for HTML documents.
// Pages are converted to Markdown and then reduced to plain text with the
// same extraction the markdown normaliser uses, so both formats chunk alike.
package html
