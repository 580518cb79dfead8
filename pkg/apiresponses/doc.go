// Package apiresponses provides the JSON response helpers and error codes
// shared by the HTTP server and the account controller.
package apiresponses
