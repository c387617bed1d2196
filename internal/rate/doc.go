// Package rate provides Redis fixed-window throttles for login and refresh.
//
// # Window semantics
//
// INCR plus EXPIRE on the first hit of a window. Keys:
//   - <prefix>:rl:login:<role>:<key>  failed logins per business key
//   - <prefix>:rl:ip:<role>:<ip>      failed logins per client IP
//   - <prefix>:rl:refresh:<sid>       refresh attempts per session
package rate
