// Package domain holds the lawn watering model: grass and sprinkler reference
// tables, the postcode index rules, precipitation series, and the watering
// decision engine.
//
// Everything here is pure. Network access, caching, and session state live
// in the adapter and pipeline packages; this package only decides.
//
// # Seasons
//
// Seasons follow the Southern Hemisphere calendar: December to February is
// summer, March to May is autumn, June to August is winter, and the
// remaining months are spring. Each grass species carries a weekly rainfall
// target per season, in millimetres.
//
// # Precipitation Series
//
// A series is an ordered list of daily totals. Indices 0-6 are the trailing
// seven days and indices 7-8 are the two forecast days. A day with no
// reading counts as zero. Decide refuses series shorter than nine days.
//
// # Decision
//
// Decide computes the observed shortfall against the seasonal target,
// converts it to sprinkler minutes (rounded to a multiple of five), and
// classifies the week. Classification is evaluated in a fixed order so
// heavy recent or forecast rain always overrides a computed deficit:
//
//   - Heavy Rain - Skip: forecast >= 25mm, or observed already meets target
//   - Light Rain - Monitor: forecast in [5, 25), or observed within 3mm of target
//   - Very Dry - Deep Water: deficit > 15mm and forecast < 5mm
//   - Dry - Water Needed: any remaining deficit
//   - All Good: nothing to do
//
// Buffalo, kikuyu, zoysia, and seashore paspalum are dormant in winter and
// use a binary 5mm top-up rule instead of the target formula.
//
// # Errors
//
// Every failure a user can see is a *UserError carrying one of the sentinel
// kinds (ErrValidation, ErrPostcodeNotFound, ...) and the message shown to
// the user. UserMessage extracts that message from any wrapped error.
package domain
