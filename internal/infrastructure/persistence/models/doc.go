// Package models contains GORM persistence models for the tables the
// orderboard reads. Models stay out of the domain packages; mappers on each
// model convert to domain values.
package models
