// Package api hosts the HTTP server: the account JSON API, the front end
// config endpoint, health and metrics, and the single page application.
package api
